package slack

import "testing"

func TestNotifierDisabledWithoutToken(t *testing.T) {
	n := NewNotifier("", "#alerts", nil)
	if n.IsEnabled() {
		t.Fatal("expected a notifier with no bot token to be disabled")
	}
}

func TestNotifierDisabledWithoutChannel(t *testing.T) {
	n := NewNotifier("xoxb-fake", "", nil)
	if n.IsEnabled() {
		t.Fatal("expected a notifier with no channel to be disabled")
	}
}

func TestAlertNotificationBlocksIncludesHostAndMessage(t *testing.T) {
	blocks := AlertNotificationBlocks(AlertInfo{
		AlertUUID: "550e8400-e29b-41d4-a716-446655440000",
		HostName:  "node1",
		Level:     "critical",
		Title:     "peer unreachable",
		Message:   "connection refused",
	})
	// header + host section + message section
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
}

func TestAlertNotificationBlocksOmitsEmptyHost(t *testing.T) {
	blocks := AlertNotificationBlocks(AlertInfo{
		Level: "warning",
		Title: "cluster-wide condition",
	})
	if len(blocks) != 1 {
		t.Fatalf("expected only the header block, got %d", len(blocks))
	}
}
