package resync

import (
	"testing"
	"time"
)

func TestValuesEqual(t *testing.T) {
	a := map[string]any{"x": "1", "y": nil}
	b := map[string]any{"x": "1", "y": nil}
	if !valuesEqual(a, b) {
		t.Error("expected equal maps with matching nils to compare equal")
	}

	c := map[string]any{"x": "1", "y": "2"}
	if valuesEqual(a, c) {
		t.Error("expected nil vs non-nil to compare unequal")
	}

	d := map[string]any{"x": "1"}
	if valuesEqual(a, d) {
		t.Error("expected different key sets to compare unequal")
	}
}

func TestUnifyTieBreakPrefersFirstPeerInOrder(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := timeKey{UUID: "u1", ModifiedDate: ts}

	peers := map[string]peerData{
		"peer-a": {
			Known: map[timeKey]snapshot{
				key: {UUID: "u1", ModifiedDate: ts, Values: map[string]any{"name": "from-a"}},
			},
		},
		"peer-b": {
			Known: map[timeKey]snapshot{
				key: {UUID: "u1", ModifiedDate: ts, Values: map[string]any{"name": "from-b"}},
			},
		},
	}

	got := unify(peers, []string{"peer-a", "peer-b"})
	if len(got) != 1 {
		t.Fatalf("expected 1 unified pair, got %d", len(got))
	}
	if got[0].Values["name"] != "from-a" {
		t.Errorf("expected tie-break to prefer peer-a's value, got %v", got[0].Values["name"])
	}

	got2 := unify(peers, []string{"peer-b", "peer-a"})
	if got2[0].Values["name"] != "from-b" {
		t.Errorf("expected tie-break to prefer peer-b's value when it sorts first, got %v", got2[0].Values["name"])
	}
}

func TestUnifyOrdersDescendingByModifiedDate(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	peers := map[string]peerData{
		"peer-a": {
			Known: map[timeKey]snapshot{
				{UUID: "u1", ModifiedDate: older}: {UUID: "u1", ModifiedDate: older, Values: map[string]any{}},
				{UUID: "u1", ModifiedDate: newer}: {UUID: "u1", ModifiedDate: newer, Values: map[string]any{}},
			},
		},
	}

	got := unify(peers, []string{"peer-a"})
	if len(got) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(got))
	}
	if !got[0].ModifiedDate.Equal(newer) || !got[1].ModifiedDate.Equal(older) {
		t.Errorf("expected descending order, got %v then %v", got[0].ModifiedDate, got[1].ModifiedDate)
	}
}
