package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/anvil-ha/anvil/pkg/job"
	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// longPollTimeout bounds how long ?wait=1 blocks for a claimed/progress
// event before falling back to returning the list as-is.
const longPollTimeout = 25 * time.Second

// jobView is the JSON shape returned by the jobs endpoints.
type jobView struct {
	UUID        string     `json:"uuid"`
	HostUUID    string     `json:"host_uuid"`
	Command     string     `json:"command"`
	Name        string     `json:"name"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Progress    int        `json:"progress"`
	Status      string     `json:"status"`
	Data        string     `json:"data,omitempty"`
	PickedUpBy  int64      `json:"picked_up_by,omitempty"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	ModifiedAt  time.Time  `json:"modified_at"`
}

func toJobView(j *job.Job, modified time.Time) jobView {
	return jobView{
		UUID:        j.UUID,
		HostUUID:    j.HostUUID,
		Command:     j.Command,
		Name:        j.Name,
		Title:       j.Title,
		Description: j.Description,
		Progress:    j.Progress,
		Status:      j.Status,
		Data:        j.Data,
		PickedUpBy:  j.PickedUpBy,
		PickedUpAt:  j.PickedUpAt,
		ModifiedAt:  modified,
	}
}

// JobsListHandler lists jobs in modified_date order, cursor-paginated, for
// the dashboard window onto Component I's job table. It never accepts a
// write — creating and claiming jobs stays inside the daemon itself.
//
// When the optional Redis notify bus is configured and the caller passes
// ?wait=1, the handler blocks on the anvil:job:claimed/anvil:job:progress
// channels (up to longPollTimeout) before running the query, giving a
// low-latency nudge on top of what is still a plain poll underneath — the
// database stays the source of truth, so a timed-out wait just returns
// whatever the table currently holds.
func JobsListHandler(ex *sqlexec.Executor, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil && r.URL.Query().Get("wait") == "1" {
			waitForJobEvent(r.Context(), rdb)
		}

		params, err := ParseCursorParams(r)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		sql := `SELECT job_uuid, job_host_uuid, job_command, job_name, job_title,
			job_description, job_progress, job_status, job_picked_up_by, job_picked_up_at, modified_date
			FROM jobs`
		var args []any
		if params.After != nil {
			sql += " WHERE (modified_date, job_uuid) < ($1, $2)"
			args = append(args, params.After.CreatedAt, params.After.ID.String())
		}
		sql += fmt.Sprintf(" ORDER BY modified_date DESC, job_uuid DESC LIMIT $%d", len(args)+1)
		args = append(args, params.Limit+1)

		rows, err := ex.Query(r.Context(), "", sql, args...)
		if err != nil {
			RespondError(w, http.StatusBadGateway, "query_failed", err.Error())
			return
		}

		views := make([]jobView, 0, len(rows))
		for _, row := range rows {
			modified, _ := row["modified_date"].(time.Time)
			views = append(views, toJobView(rowToJobFields(row), modified))
		}

		page := NewCursorPage(views, params.Limit, func(v jobView) Cursor {
			id, err := uuid.Parse(v.UUID)
			if err != nil {
				id = uuid.Nil
			}
			return Cursor{CreatedAt: v.ModifiedAt, ID: id}
		})
		Respond(w, http.StatusOK, page)
	}
}

// JobGetHandler returns a single job by UUID, including its job_data status
// line.
func JobGetHandler(ex *sqlexec.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobUUID := chi.URLParam(r, "uuid")
		j, err := job.Get(r.Context(), ex, jobUUID)
		if err != nil {
			RespondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		Respond(w, http.StatusOK, toJobView(j, time.Time{}))
	}
}

// waitForJobEvent blocks until a job-claimed/progress event is published,
// the timeout elapses, or the request context is cancelled — whichever
// comes first. It never returns an error; a subscribe failure just falls
// through to an immediate query, same as the timeout path.
func waitForJobEvent(ctx context.Context, rdb *redis.Client) {
	waitCtx, cancel := context.WithTimeout(ctx, longPollTimeout)
	defer cancel()

	sub := rdb.Subscribe(waitCtx, "anvil:job:claimed", "anvil:job:progress")
	defer sub.Close()

	select {
	case <-sub.Channel():
	case <-waitCtx.Done():
	}
}

func rowToJobFields(row sqlexec.Row) *job.Job {
	get := func(k string) string {
		if s, ok := row[k].(string); ok {
			return s
		}
		return ""
	}
	j := &job.Job{
		UUID:        get("job_uuid"),
		HostUUID:    get("job_host_uuid"),
		Command:     get("job_command"),
		Name:        get("job_name"),
		Title:       get("job_title"),
		Description: get("job_description"),
		Status:      get("job_status"),
	}
	if v, ok := row["job_progress"].(int32); ok {
		j.Progress = int(v)
	}
	if v, ok := row["job_picked_up_by"].(int64); ok {
		j.PickedUpBy = v
	}
	if t, ok := row["job_picked_up_at"].(time.Time); ok {
		j.PickedUpAt = &t
	}
	return j
}
