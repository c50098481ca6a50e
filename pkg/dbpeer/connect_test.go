package dbpeer

import (
	"errors"
	"testing"
)

func TestClassifyConnError(t *testing.T) {
	cases := []struct {
		err  error
		want ConnFailKind
	}{
		{errors.New("dial tcp: no route to host"), FailRouteUnreachable},
		{errors.New("FATAL: password authentication failed for user \"anvil\""), FailPasswordRejected},
		{errors.New("no password supplied"), FailNoPassword},
		{errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), FailConnectionRefused},
		{errors.New("dial tcp: lookup nosuchhost: no such host"), FailNameResolution},
		{errors.New("something else entirely"), FailGeneric},
	}

	for _, tc := range cases {
		if got := ClassifyConnError(tc.err); got != tc.want {
			t.Errorf("ClassifyConnError(%q) = %q, want %q", tc.err, got, tc.want)
		}
	}

	if got := ClassifyConnError(nil); got != "" {
		t.Errorf("ClassifyConnError(nil) = %q, want empty", got)
	}
}

func TestPoolAddRemoveReader(t *testing.T) {
	pool := &Pool{peers: make(map[string]*Peer)}

	pool.Add(&Peer{UUID: "b-uuid"})
	if pool.Reader().UUID != "b-uuid" {
		t.Fatalf("expected first added peer to become reader")
	}

	pool.Add(&Peer{UUID: "a-uuid"})
	if pool.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", pool.Len())
	}

	pool.SetReader("a-uuid")
	if pool.Reader().UUID != "a-uuid" {
		t.Fatalf("SetReader did not take effect")
	}

	pool.Remove("a-uuid")
	if pool.Len() != 1 {
		t.Fatalf("Len() after Remove = %d, want 1", pool.Len())
	}
	if pool.Reader().UUID != "b-uuid" {
		t.Fatalf("expected reader to fall back to remaining peer, got %v", pool.Reader())
	}

	pool.Remove("b-uuid")
	if pool.Len() != 0 {
		t.Fatalf("Len() after removing all peers = %d, want 0", pool.Len())
	}
	if pool.Reader() != nil {
		t.Fatalf("expected nil reader on empty pool, got %v", pool.Reader())
	}
}
