package upsert

import (
	"context"
	"fmt"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// Variable is a name/value pair, optionally scoped to a source row through
// SourceUUID and SourceTable. The Lock Manager's lock_request row is
// unscoped: one row for the whole cluster.
type Variable struct {
	UUID         string
	Name         string
	Value        string
	DefaultValue string
	Description  string
	Section      string
	SourceUUID   string
	SourceTable  string
}

// UpsertVariable inserts or updates a variables row. Variables have no
// owning host column, so there is no pre-insert host-existence check; the
// Lock Manager, Drift Detector, Resync Engine and Shutdown Orchestrator
// build on top of this for their lock_request, resync_needed and
// reboot_needed rows.
func UpsertVariable(ctx context.Context, ex *sqlexec.Executor, v Variable) (Result, error) {
	if v.Name == "" {
		return Result{}, fmt.Errorf("upsert: variable name is required")
	}
	if v.UUID != "" && !ValidUUID(v.UUID) {
		return Result{}, fmt.Errorf("upsert: invalid variable_uuid %q", v.UUID)
	}

	naturalKey := map[string]any{"name": v.Name}
	if v.SourceUUID != "" {
		naturalKey["source_uuid"] = v.SourceUUID
	} else {
		naturalKey["source_uuid"] = nil
	}
	if v.SourceTable != "" {
		naturalKey["source_table"] = v.SourceTable
	} else {
		naturalKey["source_table"] = nil
	}

	spec := Spec{
		Table:      "variables",
		HistoryOK:  true,
		UUIDColumn: "variable_uuid",
		UUID:       v.UUID,
		NaturalKey: naturalKey,
		Values: Fields{
			"name":          v.Name,
			"value":         v.Value,
			"default_value": v.DefaultValue,
			"description":   v.Description,
			"section":       v.Section,
			"source_uuid":   naturalKey["source_uuid"],
			"source_table":  naturalKey["source_table"],
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}

// GetVariable reads a single variable's current value, returning ("", nil)
// when no row matches.
func GetVariable(ctx context.Context, ex *sqlexec.Executor, name, sourceUUID string) (string, error) {
	var rows []sqlexec.Row
	var err error
	if sourceUUID == "" {
		rows, err = ex.Query(ctx, "", `SELECT value FROM variables WHERE name = $1 AND source_uuid IS NULL`, name)
	} else {
		rows, err = ex.Query(ctx, "", `SELECT value FROM variables WHERE name = $1 AND source_uuid = $2`, name, sourceUUID)
	}
	if err != nil {
		return "", fmt.Errorf("upsert: reading variable %q: %w", name, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%v", rows[0]["value"]), nil
}
