// Package upsert implements the family of idempotent insert-or-update
// operations described in §4.D: one routine per table, each comparing the
// proposed value columns against the current stored row before deciding
// whether a write is needed at all, and each coupling its write to a
// history row with the same modified_date.
package upsert

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// Fields is a natural-key-plus-value-column row, value column name to
// proposed value. Upserter callers build one of these; the uuid column
// itself is never included here — it is threaded separately as Spec.UUID.
type Fields map[string]any

// Spec describes one upsert call: which table, which UUID column, which
// columns the caller already knows the current value of isn't needed since
// the helper always re-reads, and how to find an existing row when no UUID
// was supplied.
type Spec struct {
	Table       string // e.g. "hosts"
	HistoryOK   bool   // false for tables with no history relation (states)
	UUIDColumn  string // e.g. "host_uuid"
	UUID        string // caller-supplied row UUID; empty means "look up by natural key"
	NaturalKey  map[string]any // column -> value, used only when UUID == ""
	Values      Fields         // every value column this table has, including ones unchanged
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidUUID reports whether s is a canonical 8-4-4-4-12 hex UUID.
func ValidUUID(s string) bool {
	return uuidPattern.MatchString(s)
}

var macPattern = regexp.MustCompile(`^[0-9a-fA-F]{12}$|^([0-9a-fA-F]{2}[:\-]){5}[0-9a-fA-F]{2}$`)

// NormalizeMAC validates a MAC as 12 or 17 hex characters (with or without
// separators) and returns it lower-cased with separators stripped, or an
// error if the shape is invalid.
func NormalizeMAC(s string) (string, error) {
	if !macPattern.MatchString(s) {
		return "", fmt.Errorf("upsert: invalid MAC address %q", s)
	}
	cleaned := strings.NewReplacer(":", "", "-", "").Replace(s)
	return strings.ToLower(cleaned), nil
}

// Result is what a successful Upsert call returns.
type Result struct {
	UUID    string
	Written bool // false when the proposed values matched the stored row exactly
}

// hostExists is injected by the host package's upsert call site to avoid a
// circular dependency — every upsert except the host's own checks it.
type HostExistsFunc func(ctx context.Context, ex *sqlexec.Executor, hostUUID string) (bool, error)

// Do runs the generic insert-or-update algorithm described in §4.D.2-5.
// refreshNow is a function returning the database's own now() as a cached
// per-call timestamp (§4.D.4's "refresh timestamp").
func Do(ctx context.Context, ex *sqlexec.Executor, spec Spec, refreshNow func(ctx context.Context) (string, error)) (Result, error) {
	existingUUID, existing, err := lookup(ctx, ex, spec)
	if err != nil {
		return Result{}, err
	}

	now, err := refreshNow(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("upsert: fetching refresh timestamp: %w", err)
	}

	if existingUUID == "" {
		newUUID := spec.UUID
		if newUUID == "" {
			newUUID = uuid.NewString()
		}
		if err := insert(ctx, ex, spec, newUUID, now); err != nil {
			return Result{}, err
		}
		return Result{UUID: newUUID, Written: true}, nil
	}

	if fieldsEqual(existing, spec.Values) {
		return Result{UUID: existingUUID, Written: false}, nil
	}

	if err := update(ctx, ex, spec, existingUUID, now); err != nil {
		return Result{}, err
	}
	return Result{UUID: existingUUID, Written: true}, nil
}

// lookup finds the current row by UUID (if supplied) or by natural key,
// returning its UUID and its current value columns. A zero-value UUID
// return means no row exists.
func lookup(ctx context.Context, ex *sqlexec.Executor, spec Spec) (string, Fields, error) {
	var whereCol string
	var whereVal any

	if spec.UUID != "" {
		whereCol, whereVal = spec.UUIDColumn, spec.UUID
		rows, err := ex.Query(ctx, "", fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", spec.Table, whereCol), whereVal)
		if err != nil {
			return "", nil, fmt.Errorf("upsert: looking up %s by uuid: %w", spec.Table, err)
		}
		if len(rows) == 0 {
			return "", nil, nil
		}
		return spec.UUID, rowToFields(rows[0], spec.UUIDColumn), nil
	}

	if len(spec.NaturalKey) == 0 {
		return "", nil, nil
	}

	cols := sortedKeys(spec.NaturalKey)
	var clauses []string
	var args []any
	for _, c := range cols {
		// a nil natural-key value matches a NULL column
		if spec.NaturalKey[c] == nil {
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", c))
			continue
		}
		args = append(args, spec.NaturalKey[c])
		clauses = append(clauses, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s", spec.Table, strings.Join(clauses, " AND "))

	rows, err := ex.Query(ctx, "", sql, args...)
	if err != nil {
		return "", nil, fmt.Errorf("upsert: looking up %s by natural key: %w", spec.Table, err)
	}
	if len(rows) == 0 {
		return "", nil, nil
	}

	uuidVal := fmt.Sprintf("%v", rows[0][spec.UUIDColumn])
	return uuidVal, rowToFields(rows[0], spec.UUIDColumn), nil
}

func rowToFields(row sqlexec.Row, uuidCol string) Fields {
	f := make(Fields, len(row))
	for k, v := range row {
		if k == uuidCol || k == "modified_date" {
			continue
		}
		f[k] = v
	}
	return f
}

// fieldsEqual implements invariant 3: an UPDATE is issued only when at
// least one value column actually differs.
func fieldsEqual(stored, proposed Fields) bool {
	for k, v := range proposed {
		sv, ok := stored[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", sv) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

func insert(ctx context.Context, ex *sqlexec.Executor, spec Spec, newUUID, now string) error {
	cols := []string{spec.UUIDColumn}
	args := []any{newUUID}
	placeholders := []string{"$1"}

	for i, c := range sortedKeys(spec.Values) {
		cols = append(cols, c)
		args = append(args, spec.Values[c])
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
	}
	cols = append(cols, "modified_date")
	args = append(args, now)
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", spec.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	stmts := []sqlexec.Statement{{SQL: sql, Args: args}}

	if spec.HistoryOK {
		stmts = append(stmts, historyInsertStatement(spec, newUUID, now))
	}

	return ex.WriteBatch(ctx, "", stmts)
}

func update(ctx context.Context, ex *sqlexec.Executor, spec Spec, rowUUID, now string) error {
	var sets []string
	var args []any
	for _, c := range sortedKeys(spec.Values) {
		args = append(args, spec.Values[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	args = append(args, now)
	sets = append(sets, fmt.Sprintf("modified_date = $%d", len(args)))
	args = append(args, rowUUID)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", spec.Table, strings.Join(sets, ", "), spec.UUIDColumn, len(args))
	stmts := []sqlexec.Statement{{SQL: sql, Args: args}}

	if spec.HistoryOK {
		stmts = append(stmts, historyInsertStatement(spec, rowUUID, now))
	}

	return ex.WriteBatch(ctx, "", stmts)
}

func historyInsertStatement(spec Spec, rowUUID, now string) sqlexec.Statement {
	cols := []string{spec.UUIDColumn}
	args := []any{rowUUID}
	placeholders := []string{"$1"}

	for i, c := range sortedKeys(spec.Values) {
		cols = append(cols, c)
		args = append(args, spec.Values[c])
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
	}
	cols = append(cols, "modified_date")
	args = append(args, now)
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))

	sql := fmt.Sprintf("INSERT INTO history.%s (%s) VALUES (%s)", spec.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return sqlexec.Statement{SQL: sql, Args: args}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RefreshNow returns a function that reads the database's own now() cast to
// timestamptz through the reader peer. Every Upsert* routine in this package
// builds a fresh one per call, so now() is queried once per upserted row;
// nothing is cached.
func RefreshNow(ex *sqlexec.Executor) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		rows, err := ex.Query(ctx, "", `SELECT now()::timestamptz AS now`)
		if err != nil {
			return "", fmt.Errorf("upsert: fetching now(): %w", err)
		}
		if len(rows) == 0 {
			return "", fmt.Errorf("upsert: now() returned no rows")
		}
		return fmt.Sprintf("%v", rows[0]["now"]), nil
	}
}
