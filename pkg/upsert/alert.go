package upsert

import (
	"context"
	"fmt"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// Alert is a dashboard-visible condition raised against a host, or
// cluster-wide when HostUUID is empty.
type Alert struct {
	UUID        string
	HostUUID    string // optional
	SetBy       string
	Level       string // critical, warning, notice, debug, info
	TitleKey    string
	TitleVars   string
	MessageKey  string
	MessageVars string
	Sort        int
	Header      bool
}

var validAlertLevels = map[string]bool{
	"critical": true, "warning": true, "notice": true, "debug": true, "info": true,
}

// UpsertAlert inserts or updates an alerts row. When HostUUID is set, it
// must already be a registered host; an unregistered host_uuid silently
// no-ops per §4.D.3. A cluster-wide alert (empty HostUUID) bypasses the
// check entirely.
func UpsertAlert(ctx context.Context, ex *sqlexec.Executor, hostExists HostExistsFunc, a Alert) (Result, error) {
	if !validAlertLevels[a.Level] {
		return Result{}, fmt.Errorf("upsert: invalid alert level %q", a.Level)
	}
	if a.TitleKey == "" || a.MessageKey == "" {
		return Result{}, fmt.Errorf("upsert: title_key and message_key are required")
	}

	var hostUUID any
	if a.HostUUID != "" {
		if !ValidUUID(a.HostUUID) {
			return Result{}, fmt.Errorf("upsert: invalid host_uuid %q", a.HostUUID)
		}
		ok, err := hostExists(ctx, ex, a.HostUUID)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, nil
		}
		hostUUID = a.HostUUID
	}

	spec := Spec{
		Table:      "alerts",
		HistoryOK:  true,
		UUIDColumn: "alert_uuid",
		UUID:       a.UUID,
		Values: Fields{
			"host_uuid":    hostUUID,
			"set_by":       a.SetBy,
			"level":        a.Level,
			"title_key":    a.TitleKey,
			"title_vars":   a.TitleVars,
			"message_key":  a.MessageKey,
			"message_vars": a.MessageVars,
			"sort":         a.Sort,
			"header_flag":  a.Header,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}
