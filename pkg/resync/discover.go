package resync

import (
	"context"
	"fmt"
	"strings"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// tableMeta is what the engine needs to know about one table before it can
// reconcile it.
type tableMeta struct {
	Table      string
	UUIDColumn string
	HostColumn string // "" when no owning-host column exists
	HasHistory bool
}

// discoverTable finds the UUID column and owning-host column for a table by
// inspecting one reachable peer's information_schema. It returns ok=false
// when no UUID column candidate matches, meaning the table is skipped per
// §4.F.2.
func discoverTable(ctx context.Context, ex *sqlexec.Executor, table string) (tableMeta, bool, error) {
	meta := tableMeta{Table: table}

	uuidCol, err := findUUIDColumn(ctx, ex, table)
	if err != nil {
		return meta, false, err
	}
	if uuidCol == "" {
		return meta, false, nil
	}
	meta.UUIDColumn = uuidCol

	hostCol, err := findHostColumn(ctx, ex, table)
	if err != nil {
		return meta, false, err
	}
	meta.HostColumn = hostCol

	hasHistory, err := tableExists(ctx, ex, "history", table)
	if err != nil {
		return meta, false, err
	}
	meta.HasHistory = hasHistory

	return meta, true, nil
}

// uuidColumnCandidates implements §4.F.2's three-way discovery rule:
// <table>_uuid, <singular>_uuid (trailing "s" stripped), or
// <singular-es-stripped>_uuid (trailing "es" stripped instead of just "s",
// for tables like ip_addresses whose singular drops "es").
func uuidColumnCandidates(table string) []string {
	cands := []string{table + "_uuid"}
	if strings.HasSuffix(table, "s") {
		cands = append(cands, strings.TrimSuffix(table, "s")+"_uuid")
	}
	if strings.HasSuffix(table, "es") {
		cands = append(cands, strings.TrimSuffix(table, "es")+"_uuid")
	}
	return cands
}

func findUUIDColumn(ctx context.Context, ex *sqlexec.Executor, table string) (string, error) {
	for _, cand := range uuidColumnCandidates(table) {
		rows, err := ex.Query(ctx, "", `SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
			  AND data_type = 'uuid' AND is_nullable = 'NO'`, table, cand)
		if err != nil {
			return "", fmt.Errorf("resync: discovering uuid column for %s: %w", table, err)
		}
		if len(rows) > 0 {
			return cand, nil
		}
	}
	return "", nil
}

func findHostColumn(ctx context.Context, ex *sqlexec.Executor, table string) (string, error) {
	rows, err := ex.Query(ctx, "", `SELECT column_name FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1 AND column_name LIKE '%\_host\_uuid' ESCAPE '\'
		ORDER BY column_name LIMIT 1`, table)
	if err != nil {
		return "", fmt.Errorf("resync: discovering host column for %s: %w", table, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%v", rows[0]["column_name"]), nil
}

func tableExists(ctx context.Context, ex *sqlexec.Executor, schema, table string) (bool, error) {
	rows, err := ex.Query(ctx, "", `SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`, schema, table)
	if err != nil {
		return false, fmt.Errorf("resync: checking existence of %s.%s: %w", schema, table, err)
	}
	return len(rows) > 0, nil
}
