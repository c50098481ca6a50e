package messaging

import (
	"fmt"
	"strings"
)

// LevelEmoji returns the emoji prefix for one of the Alert entity's five
// levels (§3: critical, warning, notice, debug, info).
func LevelEmoji(level string) string {
	switch level {
	case "critical":
		return "\U0001F534" // red circle
	case "warning":
		return "\U0001F7E1" // yellow circle
	case "notice":
		return "\U0001F7E0" // orange circle
	case "debug":
		return "⚪" // white circle
	case "info":
		return "\U0001F535" // blue circle
	default:
		return "⚪"
	}
}

// LevelLabel returns a human-readable uppercase label for a level.
func LevelLabel(level string) string {
	switch level {
	case "critical", "warning", "notice", "debug", "info":
		return strings.ToUpper(level)
	default:
		return level
	}
}

// AlertSummary builds a one-line text summary for an alert.
func AlertSummary(msg AlertMessage) string {
	return fmt.Sprintf("%s %s: %s", LevelEmoji(msg.Level), LevelLabel(msg.Level), msg.Title)
}

// LevelColor returns a hex color string for a level, used for Slack
// attachment/block accents.
func LevelColor(level string) string {
	switch level {
	case "critical":
		return "#DC2626"
	case "warning":
		return "#CA8A04"
	case "notice":
		return "#EA580C"
	case "debug":
		return "#6B7280"
	case "info":
		return "#2563EB"
	default:
		return "#6B7280"
	}
}

// Truncate returns s truncated to max characters with "..." appended.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
