package upsert

import (
	"context"
	"fmt"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// Job is a unit of work queued against a specific host.
type Job struct {
	UUID        string
	HostUUID    string
	Command     string
	Data        string
	PickedUpBy  int64
	Progress    int
	Status      string
	Name        string
	Title       string
	Description string
}

// UpsertJob inserts or updates a jobs row. hostExists must be HostExists or
// an equivalent check; jobs are always owned by a host, so an unregistered
// HostUUID silently no-ops per §4.D.3.
func UpsertJob(ctx context.Context, ex *sqlexec.Executor, hostExists HostExistsFunc, j Job) (Result, error) {
	if j.HostUUID == "" || !ValidUUID(j.HostUUID) {
		return Result{}, fmt.Errorf("upsert: invalid job_host_uuid %q", j.HostUUID)
	}
	if j.Command == "" {
		return Result{}, fmt.Errorf("upsert: job_command is required")
	}
	if j.Progress < 0 || j.Progress > 100 {
		return Result{}, fmt.Errorf("upsert: job_progress %d out of range", j.Progress)
	}

	ok, err := hostExists(ctx, ex, j.HostUUID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	spec := Spec{
		Table:      "jobs",
		HistoryOK:  true,
		UUIDColumn: "job_uuid",
		UUID:       j.UUID,
		Values: Fields{
			"job_host_uuid":    j.HostUUID,
			"job_command":      j.Command,
			"job_data":         j.Data,
			"job_picked_up_by": j.PickedUpBy,
			"job_progress":     j.Progress,
			"job_status":       j.Status,
			"job_name":         j.Name,
			"job_title":        j.Title,
			"job_description":  j.Description,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}
