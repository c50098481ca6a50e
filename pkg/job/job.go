// Package job implements the Job Engine described in §4.I: a claim
// protocol that tolerates multiple workers racing for the same pending
// job, progress tracking, and the free-form job_data status-line format
// UI collaborators parse for terminal failure.
package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// Progress values per §4.I's state table.
const (
	ProgressPending = 0
	ProgressClaimed = 1
	ProgressDone    = 100
)

// Job mirrors one row of the jobs table.
type Job struct {
	UUID        string
	HostUUID    string
	Command     string
	Data        string
	PickedUpBy  int64
	PickedUpAt  *time.Time
	Progress    int
	Status      string
	Name        string
	Title       string
	Description string
}

// ErrNoJobAvailable is returned by Claim when the host has no pending job
// rows at all.
var ErrNoJobAvailable = fmt.Errorf("job: no job available")

// ErrRaceLost is returned by Claim when one or more pending jobs existed
// but every one was claimed by a competing worker first (§7 kind 5: race,
// silent, caller retries). Callers distinguish it from ErrNoJobAvailable
// with errors.Is rather than parsing a message.
var ErrRaceLost = fmt.Errorf("job: lost claim race to another worker")

// Claim implements the §4.I claim protocol: read pending jobs for the
// host, attempt to win each in modified_date order, and return the first
// one actually won. A zero-affected-rows UPDATE means another worker won
// that job first; the caller moves on to the next candidate.
func Claim(ctx context.Context, ex *sqlexec.Executor, hostUUID string, pid int64) (*Job, error) {
	rows, err := ex.Query(ctx, "", `SELECT job_uuid FROM jobs
		WHERE job_host_uuid = $1 AND job_progress < 100 AND job_picked_up_by = 0
		ORDER BY modified_date`, hostUUID)
	if err != nil {
		return nil, fmt.Errorf("job: listing candidates: %w", err)
	}

	if len(rows) == 0 {
		return nil, ErrNoJobAvailable
	}

	for _, row := range rows {
		jobUUID := fmt.Sprintf("%v", row["job_uuid"])

		affected, err := ex.Exec(ctx, "", `UPDATE jobs
			SET job_picked_up_by = $1, job_picked_up_at = now(), job_progress = $2, job_status = 'starting', modified_date = now()
			WHERE job_uuid = $3 AND job_picked_up_by = 0`, pid, ProgressClaimed, jobUUID)
		if err != nil {
			return nil, fmt.Errorf("job: claiming %s: %w", jobUUID, err)
		}
		if affected == 0 {
			continue // lost the race; try the next candidate
		}

		return Get(ctx, ex, jobUUID)
	}

	return nil, ErrRaceLost
}

// Get reads a single job by UUID.
func Get(ctx context.Context, ex *sqlexec.Executor, jobUUID string) (*Job, error) {
	rows, err := ex.Query(ctx, "", `SELECT * FROM jobs WHERE job_uuid = $1`, jobUUID)
	if err != nil {
		return nil, fmt.Errorf("job: reading %s: %w", jobUUID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("job: %s not found", jobUUID)
	}
	return rowToJob(rows[0]), nil
}

// UpdateProgress implements the "job progress fast-path" from §4.D: only
// job_progress, job_status, job_picked_up_by, job_picked_up_at, and
// job_data may change, and only the ones the caller actually supplies.
// Progress monotonicity is left unchecked, matching the source's
// documented convention (§9 Open Questions).
func UpdateProgress(ctx context.Context, ex *sqlexec.Executor, jobUUID string, progress int, status, data string) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("job: progress %d out of range", progress)
	}

	var sets []string
	var args []any

	args = append(args, progress)
	sets = append(sets, fmt.Sprintf("job_progress = $%d", len(args)))

	if status != "" {
		args = append(args, status)
		sets = append(sets, fmt.Sprintf("job_status = $%d", len(args)))
	}
	if data != "" {
		args = append(args, data)
		sets = append(sets, fmt.Sprintf("job_data = $%d", len(args)))
	}
	args = append(args, jobUUID)
	sql := fmt.Sprintf("UPDATE jobs SET %s, modified_date = now() WHERE job_uuid = $%d", strings.Join(sets, ", "), len(args))

	if _, err := ex.Exec(ctx, "", sql, args...); err != nil {
		return fmt.Errorf("job: updating progress for %s: %w", jobUUID, err)
	}
	return nil
}

func rowToJob(row sqlexec.Row) *Job {
	j := &Job{
		UUID:        fmt.Sprintf("%v", row["job_uuid"]),
		HostUUID:    fmt.Sprintf("%v", row["job_host_uuid"]),
		Command:     fmt.Sprintf("%v", row["job_command"]),
		Data:        fmt.Sprintf("%v", row["job_data"]),
		Status:      fmt.Sprintf("%v", row["job_status"]),
		Name:        fmt.Sprintf("%v", row["job_name"]),
		Title:       fmt.Sprintf("%v", row["job_title"]),
		Description: fmt.Sprintf("%v", row["job_description"]),
	}
	if v, ok := row["job_picked_up_by"].(int64); ok {
		j.PickedUpBy = v
	}
	if v, ok := row["job_progress"].(int32); ok {
		j.Progress = int(v)
	}
	if t, ok := row["job_picked_up_at"].(time.Time); ok {
		j.PickedUpAt = &t
	}
	return j
}
