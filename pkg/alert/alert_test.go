package alert

import "testing"

func TestHostUUIDClause(t *testing.T) {
	if got := hostUUIDClause(""); got != "host_uuid IS NULL" {
		t.Errorf("hostUUIDClause(\"\") = %q, want cluster-wide NULL match", got)
	}
	if got := hostUUIDClause("550e8400-e29b-41d4-a716-446655440000"); got != "host_uuid = $3" {
		t.Errorf("hostUUIDClause(uuid) = %q, want a bound $3 placeholder", got)
	}
}
