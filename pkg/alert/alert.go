// Package alert implements the dedup-until-cleared alert raising
// described in §7: at most one alert per (setter, record-locator,
// alert-name) tuple stays open at a time, and a raise that changes
// nothing never reaches the configured notifier.
package alert

import (
	"context"
	"fmt"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
	"github.com/anvil-ha/anvil/pkg/upsert"
)

// Raiser composes the Upserter's insert-or-update call (§4.D) with the
// §7 dedup-until-cleared invariant: a (SetBy, HostUUID, TitleKey) tuple
// already represented by an open alert is reused in place rather than
// duplicated.
type Raiser struct {
	Executor   *sqlexec.Executor
	HostExists upsert.HostExistsFunc

	// Notify is called after a raise actually writes a row — a no-op
	// raise (identical to the stored row) never fires it. Component O
	// wires this to the Slack notifier.
	Notify func(ctx context.Context, a upsert.Alert, result upsert.Result)
}

// NewRaiser constructs a Raiser against the given peer pool.
func NewRaiser(ex *sqlexec.Executor, hostExists upsert.HostExistsFunc) *Raiser {
	return &Raiser{Executor: ex, HostExists: hostExists}
}

// Raise implements §7's recovery-policy invariant: it looks up the open
// alert for (a.SetBy, a.HostUUID, a.TitleKey), reuses its alert_uuid so
// UpsertAlert updates the existing row instead of inserting a duplicate,
// and fires Notify only when the proposed values actually differ.
func (r *Raiser) Raise(ctx context.Context, a upsert.Alert) (upsert.Result, error) {
	if a.UUID == "" {
		existing, err := r.findOpen(ctx, a.SetBy, a.HostUUID, a.TitleKey)
		if err != nil {
			return upsert.Result{}, err
		}
		a.UUID = existing
	}

	result, err := upsert.UpsertAlert(ctx, r.Executor, r.HostExists, a)
	if err != nil {
		return upsert.Result{}, err
	}
	if result.Written && r.Notify != nil {
		r.Notify(ctx, a, result)
	}
	return result, nil
}

// Clear implements §7's "until explicitly cleared": the alerts table
// carries no open/cleared flag (§3), so clearing removes the matching
// row outright. Clearing a tuple with no open alert is a no-op.
func (r *Raiser) Clear(ctx context.Context, setBy, hostUUID, titleKey string) error {
	existing, err := r.findOpen(ctx, setBy, hostUUID, titleKey)
	if err != nil {
		return err
	}
	if existing == "" {
		return nil
	}
	if _, err := r.Executor.Exec(ctx, "", `DELETE FROM alerts WHERE alert_uuid = $1`, existing); err != nil {
		return fmt.Errorf("alert: clearing %s: %w", existing, err)
	}
	return nil
}

// findOpen returns the alert_uuid of the open alert for this tuple, or
// "" if none exists. A cluster-wide alert (empty hostUUID) is matched
// against a NULL host_uuid column.
func (r *Raiser) findOpen(ctx context.Context, setBy, hostUUID, titleKey string) (string, error) {
	sql := fmt.Sprintf(`SELECT alert_uuid FROM alerts WHERE set_by = $1 AND title_key = $2 AND %s`,
		hostUUIDClause(hostUUID))
	args := []any{setBy, titleKey}
	if hostUUID != "" {
		args = append(args, hostUUID)
	}

	rows, err := r.Executor.Query(ctx, "", sql, args...)
	if err != nil {
		return "", fmt.Errorf("alert: finding open alert: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%v", rows[0]["alert_uuid"]), nil
}

func hostUUIDClause(hostUUID string) string {
	if hostUUID == "" {
		return "host_uuid IS NULL"
	}
	return "host_uuid = $3"
}
