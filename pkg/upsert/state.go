package upsert

import (
	"context"
	"fmt"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// State is an ephemeral per-host status tag (for example "booted" or
// "drbd_syncing"). States are excluded from the Drift Detector and Resync
// Engine's scope, so their table has no history pair.
type State struct {
	UUID     string
	HostUUID string
	Name     string
	Note     string
}

// UpsertState inserts or updates a states row; an unregistered HostUUID
// silently no-ops per §4.D.3.
func UpsertState(ctx context.Context, ex *sqlexec.Executor, hostExists HostExistsFunc, s State) (Result, error) {
	if !ValidUUID(s.HostUUID) {
		return Result{}, fmt.Errorf("upsert: invalid host_uuid %q", s.HostUUID)
	}
	if s.Name == "" {
		return Result{}, fmt.Errorf("upsert: state_name is required")
	}

	ok, err := hostExists(ctx, ex, s.HostUUID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	spec := Spec{
		Table:      "states",
		HistoryOK:  false,
		UUIDColumn: "state_uuid",
		UUID:       s.UUID,
		NaturalKey: map[string]any{"host_uuid": s.HostUUID, "state_name": s.Name},
		Values: Fields{
			"host_uuid":  s.HostUUID,
			"state_name": s.Name,
			"state_note": s.Note,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}
