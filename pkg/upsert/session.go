package upsert

import (
	"context"
	"fmt"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// Session is a logged-in dashboard session tied to a host and a user.
type Session struct {
	UUID      string
	HostUUID  string
	UserUUID  string
	Salt      string
	UserAgent string
}

// UpsertSession inserts or updates a sessions row; an unregistered
// HostUUID silently no-ops per §4.D.3.
func UpsertSession(ctx context.Context, ex *sqlexec.Executor, hostExists HostExistsFunc, s Session) (Result, error) {
	if !ValidUUID(s.HostUUID) || !ValidUUID(s.UserUUID) {
		return Result{}, fmt.Errorf("upsert: host_uuid and user_uuid must be valid UUIDs")
	}

	ok, err := hostExists(ctx, ex, s.HostUUID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	spec := Spec{
		Table:      "sessions",
		HistoryOK:  true,
		UUIDColumn: "session_uuid",
		UUID:       s.UUID,
		Values: Fields{
			"host_uuid":  s.HostUUID,
			"user_uuid":  s.UserUUID,
			"salt":       s.Salt,
			"user_agent": s.UserAgent,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}
