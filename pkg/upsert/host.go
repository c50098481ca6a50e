package upsert

import (
	"context"
	"fmt"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// Host is the natural-key-identified set of fields accepted by Host.
type Host struct {
	UUID     string // optional; generated if empty
	Name     string
	Type     string // node, dashboard, or dr
	Key      string
	Status   string
}

// HostExists implements §4.D.3's pre-insert host-existence check: every
// other upsert in this package silently no-ops when the local host hasn't
// been registered yet, to avoid foreign-key violations during very early
// bootstrap.
func HostExists(ctx context.Context, ex *sqlexec.Executor, hostUUID string) (bool, error) {
	if hostUUID == "" {
		return false, nil
	}
	rows, err := ex.Query(ctx, "", `SELECT 1 FROM hosts WHERE host_uuid = $1`, hostUUID)
	if err != nil {
		return false, fmt.Errorf("upsert: checking host existence: %w", err)
	}
	return len(rows) > 0, nil
}

// UpsertHost inserts or updates a host row. There is no pre-insert host
// check here — this *is* the call that registers the host.
func UpsertHost(ctx context.Context, ex *sqlexec.Executor, h Host) (Result, error) {
	if h.Name == "" {
		return Result{}, fmt.Errorf("upsert: host_name is required")
	}
	switch h.Type {
	case "node", "dashboard", "dr":
	default:
		return Result{}, fmt.Errorf("upsert: invalid host_type %q", h.Type)
	}
	if h.UUID != "" && !ValidUUID(h.UUID) {
		return Result{}, fmt.Errorf("upsert: invalid host_uuid %q", h.UUID)
	}

	status := h.Status
	if status == "" {
		status = "unknown"
	}

	spec := Spec{
		Table:      "hosts",
		HistoryOK:  true,
		UUIDColumn: "host_uuid",
		UUID:       h.UUID,
		NaturalKey: map[string]any{"host_name": h.Name},
		Values: Fields{
			"host_name":   h.Name,
			"host_type":   h.Type,
			"host_key":    h.Key,
			"host_status": status,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}
