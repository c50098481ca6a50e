package upsert

import "testing"

func TestValidUUID(t *testing.T) {
	cases := map[string]bool{
		"550e8400-e29b-41d4-a716-446655440000": true,
		"not-a-uuid":                           false,
		"":                                     false,
	}
	for in, want := range cases {
		if got := ValidUUID(in); got != want {
			t.Errorf("ValidUUID(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNormalizeMAC(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"AA:BB:CC:DD:EE:FF", "aabbccddeeff", false},
		{"aa-bb-cc-dd-ee-ff", "aabbccddeeff", false},
		{"aabbccddeeff", "aabbccddeeff", false},
		{"not-a-mac", "", true},
		{"aabbccddee", "", true},
	}
	for _, c := range cases {
		got, err := NormalizeMAC(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("NormalizeMAC(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if err == nil && got != c.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFieldsEqual(t *testing.T) {
	stored := Fields{"a": "1", "b": 2, "c": true}

	if !fieldsEqual(stored, Fields{"a": "1", "b": 2}) {
		t.Error("expected equal when proposed is a subset with matching values")
	}
	if fieldsEqual(stored, Fields{"a": "2"}) {
		t.Error("expected unequal when a value differs")
	}
	if fieldsEqual(stored, Fields{"missing": "x"}) {
		t.Error("expected unequal when proposed references a column not present in stored")
	}
}

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string]any{"z": 1, "a": 2, "m": 3})
	want := []string{"a", "m", "z"}
	if len(got) != len(want) {
		t.Fatalf("sortedKeys length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sortedKeys[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
