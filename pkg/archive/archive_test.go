package archive

import (
	"bytes"
	"strings"
	"testing"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

func TestRoundDiv(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{10000, 1, 10000},
		{10001, 1, 10001},
		{7, 2, 4}, // round-half-up
		{6, 2, 3},
	}
	for _, c := range cases {
		if got := roundDiv(c.a, c.b); got != c.want {
			t.Errorf("roundDiv(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCopyEscape(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, `\N`},
		{"plain", "plain"},
		{"a\tb", `a\tb`},
		{"a\nb", `a\nb`},
		{"a\\b", `a\\b`},
		{42, "42"},
	}
	for _, c := range cases {
		if got := copyEscape(c.in); got != c.want {
			t.Errorf("copyEscape(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWriteCopyRowsFormat(t *testing.T) {
	rows := []sqlexec.Row{
		{"b": "2", "a": nil, "modified_date": "2026-01-01"},
		{"b": "val\twith\ttabs", "a": "x", "modified_date": "2026-01-02"},
	}
	var buf bytes.Buffer
	if err := writeCopyRows(&buf, "history.hosts", rows); err != nil {
		t.Fatalf("writeCopyRows: %v", err)
	}

	lines := strings.Split(buf.String(), "\n")
	want := []string{
		"COPY history.hosts (a, b, modified_date) FROM stdin;",
		"\\N\t2\t2026-01-01",
		"x\tval\\twith\\ttabs\t2026-01-02",
		"\\.",
		"",
		"",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestWriteCopyRowsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCopyRows(&buf, "history.hosts", nil); err != nil {
		t.Fatalf("writeCopyRows: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output for zero rows, got %q", buf.String())
	}
}

func TestSortedColumnNames(t *testing.T) {
	row := sqlexec.Row{"z": 1, "a": 2, "m": 3}
	got := sortedColumnNames(row)
	want := []string{"a", "m", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sortedColumnNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCopyColumnNamesOrdersModifiedDateLast(t *testing.T) {
	row := sqlexec.Row{"z": 1, "modified_date": 2, "a": 3}
	got := copyColumnNames(row)
	want := []string{"a", "z", "modified_date"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("copyColumnNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCopyColumnNamesWithoutModifiedDate(t *testing.T) {
	row := sqlexec.Row{"z": 1, "a": 2}
	got := copyColumnNames(row)
	want := []string{"a", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("copyColumnNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
