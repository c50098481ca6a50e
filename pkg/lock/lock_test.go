package lock

import (
	"testing"
	"time"
)

func TestHolderEncodeParseRoundTrip(t *testing.T) {
	h := holder{Hostname: "node1", HostUUID: "550e8400-e29b-41d4-a716-446655440000", At: time.Unix(1700000000, 0)}
	encoded := h.encode()

	got, ok := parseHolder(encoded)
	if !ok {
		t.Fatalf("parseHolder(%q) failed to parse", encoded)
	}
	if got.Hostname != h.Hostname || got.HostUUID != h.HostUUID || !got.At.Equal(h.At) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestParseHolderEmptyAndMalformed(t *testing.T) {
	if _, ok := parseHolder(""); ok {
		t.Error("expected empty string to parse as no holder")
	}
	if _, ok := parseHolder("not-enough-parts"); ok {
		t.Error("expected malformed value to fail to parse")
	}
	if _, ok := parseHolder("node1::uuid::not-a-number"); ok {
		t.Error("expected non-numeric timestamp to fail to parse")
	}
}

func TestHolderIsLocal(t *testing.T) {
	m := &Manager{HostUUID: "local-uuid"}
	local := holder{HostUUID: "local-uuid"}
	remote := holder{HostUUID: "other-uuid"}

	if !local.isLocal(m) {
		t.Error("expected matching host_uuid to be local")
	}
	if remote.isLocal(m) {
		t.Error("expected different host_uuid to not be local")
	}
}
