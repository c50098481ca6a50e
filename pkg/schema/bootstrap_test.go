package schema

import (
	"strings"
	"testing"
)

func TestScriptPlaceholderSubstitution(t *testing.T) {
	if !strings.Contains(rawScript, "#!variable!user!#") {
		t.Fatalf("bundled schema script no longer contains the substitution placeholder")
	}

	substituted := strings.ReplaceAll(rawScript, "#!variable!user!#", "anvil_app")
	if strings.Contains(substituted, "#!variable!user!#") {
		t.Fatalf("placeholder survived substitution")
	}
	if !strings.Contains(substituted, "GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA public TO anvil_app;") {
		t.Fatalf("expected substituted grant statement, script: %s", substituted)
	}
}

func TestScriptDefinesSentinelTable(t *testing.T) {
	if !strings.Contains(rawScript, "CREATE TABLE IF NOT EXISTS "+SentinelTable+" (") {
		t.Fatalf("bundled schema script does not define the sentinel table %q", SentinelTable)
	}
}
