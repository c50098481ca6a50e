// Package archive implements the Archiver described in §4.G: it caps
// history-table size by dumping the oldest rows to a COPY-compatible file
// on disk and deleting them, run in paced chunks so a single pass never
// locks a history table for long. Archiving is dashboard-only; nodes never
// call Run.
package archive

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anvil-ha/anvil/internal/anvilconf"
	"github.com/anvil-ha/anvil/internal/telemetry"
	"github.com/anvil-ha/anvil/pkg/sqlexec"
	"github.com/anvil-ha/anvil/pkg/synctables"
)

// Clock lets tests substitute a fixed time; production passes time.Now.
type Clock func() time.Time

// Archiver runs one archiving pass over every history table.
type Archiver struct {
	Executor     *sqlexec.Executor
	Settings     anvilconf.Archive
	ShortHost    string
	Now          Clock
	Logger       *slog.Logger
}

// New constructs an Archiver, defaulting Now to time.Now.
func New(ex *sqlexec.Executor, settings anvilconf.Archive, shortHost string, logger *slog.Logger) *Archiver {
	return &Archiver{Executor: ex, Settings: settings, ShortHost: shortHost, Now: time.Now, Logger: logger}
}

// Run archives every synced table's history in check-order, then runs a
// single VACUUM FULL if anything was deleted.
func (a *Archiver) Run(ctx context.Context) error {
	if a.Settings.Trigger == 0 {
		a.Logger.Info("archive: trigger is 0, archiving disabled")
		return nil
	}

	if err := a.ensureDirectory(); err != nil {
		return err
	}

	anyDeleted := false
	for _, table := range synctables.CheckList() {
		deleted, err := a.archiveTable(ctx, table)
		if err != nil {
			return fmt.Errorf("archive: table %s: %w", table, err)
		}
		if deleted {
			anyDeleted = true
		}
	}

	if anyDeleted {
		if _, err := a.Executor.Query(ctx, "", "VACUUM FULL"); err != nil {
			return fmt.Errorf("archive: running VACUUM FULL: %w", err)
		}
		a.Logger.Info("archive: ran VACUUM FULL after deletions")
	}

	return nil
}

func (a *Archiver) ensureDirectory() error {
	info, err := os.Stat(a.Settings.Directory)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("archive: %s exists and is not a directory", a.Settings.Directory)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("archive: checking directory %s: %w", a.Settings.Directory, err)
	}
	if !filepath.IsAbs(a.Settings.Directory) {
		return fmt.Errorf("archive: directory %q must be an absolute path", a.Settings.Directory)
	}
	if err := os.MkdirAll(a.Settings.Directory, 0o700); err != nil {
		return fmt.Errorf("archive: creating directory %s: %w", a.Settings.Directory, err)
	}
	return nil
}

// archiveTable implements §4.G.1-4 for one history table. It returns
// whether any rows were deleted.
func (a *Archiver) archiveTable(ctx context.Context, table string) (bool, error) {
	historyTable := "history." + table

	exists, err := tableExists(ctx, a.Executor, "history", table)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	countNow, err := rowCount(ctx, a.Executor, historyTable)
	if err != nil {
		return false, err
	}
	if countNow <= a.Settings.Trigger {
		return false, nil
	}

	toRemove := countNow - a.Settings.Count
	if toRemove <= 0 {
		return false, nil
	}

	loops := toRemove/a.Settings.Division + 1
	perLoop := int(roundDiv(toRemove, loops))

	deletedAny := false
	for loopIndex := 0; loopIndex < loops; loopIndex++ {
		boundary, ok, err := offsetBoundary(ctx, a.Executor, historyTable, perLoop)
		if err != nil {
			return deletedAny, err
		}
		if !ok {
			break
		}

		rows, err := a.Executor.Query(ctx, "", fmt.Sprintf(
			"SELECT * FROM %s WHERE modified_date < $1 ORDER BY modified_date", historyTable), boundary)
		if err != nil {
			return deletedAny, fmt.Errorf("archive: selecting rows to dump: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		path, err := a.dumpFile(table, loopIndex)
		if err != nil {
			return deletedAny, err
		}
		if err := writeCopyDump(path, historyTable, rows, a.Settings.Compress); err != nil {
			return deletedAny, err
		}

		if _, err := a.Executor.Query(ctx, "", fmt.Sprintf(
			"DELETE FROM %s WHERE modified_date < $1", historyTable), boundary); err != nil {
			return deletedAny, fmt.Errorf("archive: deleting dumped rows: %w", err)
		}
		deletedAny = true
		telemetry.ArchiveRowsPurgedTotal.WithLabelValues(table).Add(float64(len(rows)))

		a.Logger.Info("archive: dumped and removed history rows",
			"table", table, "loop", loopIndex, "rows", len(rows), "file", path)
	}

	return deletedAny, nil
}

func roundDiv(a, b int) int {
	if b == 0 {
		return a
	}
	// round-half-up, matching the spec's "round(to_remove / loops)"
	return (a*2 + b) / (2 * b)
}

func (a *Archiver) dumpFile(table string, loopIndex int) (string, error) {
	ts := a.Now().UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("%s.%s.%s.%d.out", a.ShortHost, table, ts, loopIndex)
	if a.Settings.Compress {
		name += ".gz"
	}
	return filepath.Join(a.Settings.Directory, name), nil
}

func tableExists(ctx context.Context, ex *sqlexec.Executor, schema, table string) (bool, error) {
	rows, err := ex.Query(ctx, "", `SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`, schema, table)
	if err != nil {
		return false, fmt.Errorf("archive: checking existence of %s.%s: %w", schema, table, err)
	}
	return len(rows) > 0, nil
}

func rowCount(ctx context.Context, ex *sqlexec.Executor, qualifiedTable string) (int, error) {
	rows, err := ex.Query(ctx, "", fmt.Sprintf("SELECT count(*) AS n FROM %s", qualifiedTable))
	if err != nil {
		return 0, fmt.Errorf("archive: counting %s: %w", qualifiedTable, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := toInt(rows[0]["n"])
	if err != nil {
		return 0, fmt.Errorf("archive: parsing row count: %w", err)
	}
	return n, nil
}

// offsetBoundary finds the modified_date at the given row offset (counting
// from the oldest row), used to bound one loop's dump-and-delete window.
func offsetBoundary(ctx context.Context, ex *sqlexec.Executor, qualifiedTable string, offset int) (time.Time, bool, error) {
	rows, err := ex.Query(ctx, "", fmt.Sprintf(
		"SELECT modified_date FROM %s ORDER BY modified_date OFFSET $1 LIMIT 1", qualifiedTable), offset)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("archive: finding offset boundary: %w", err)
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	t, ok := rows[0]["modified_date"].(time.Time)
	if !ok {
		return time.Time{}, false, fmt.Errorf("archive: modified_date at offset is not a timestamp")
	}
	return t, true, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	default:
		var out int
		if _, err := fmt.Sscanf(fmt.Sprintf("%v", n), "%d", &out); err != nil {
			return 0, err
		}
		return out, nil
	}
}

// writeCopyDump writes rows to path as a PostgreSQL COPY-compatible dump
// per §6: a "COPY <table> (cols…) FROM stdin;" header, tab-separated data
// rows ("\N" for NULL, tabs/newlines backslash-escaped in values), and a
// "\.\n\n" terminator, 0600 owned by the current process. When compress is
// true the stream is wrapped in gzip.
func writeCopyDump(path, table string, rows []sqlexec.Row, compress bool) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("archive: creating dump file %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if err := writeCopyRows(w, table, rows); err != nil {
		return fmt.Errorf("archive: writing dump %s: %w", path, err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("archive: closing gzip stream for %s: %w", path, err)
		}
	}
	return f.Sync()
}

// writeCopyRows writes the full COPY text body, header and terminator
// included. Columns are ordered value-columns (alphabetical) then
// modified_date last, matching the order the header names them in.
func writeCopyRows(w io.Writer, table string, rows []sqlexec.Row) error {
	if len(rows) == 0 {
		return nil
	}

	cols := copyColumnNames(rows[0])
	if _, err := fmt.Fprintf(w, "COPY %s (%s) FROM stdin;\n", table, strings.Join(cols, ", ")); err != nil {
		return err
	}

	for _, row := range rows {
		for i, c := range cols {
			if i > 0 {
				if _, err := io.WriteString(w, "\t"); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, copyEscape(row[c])); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "\\.\n\n")
	return err
}

func copyEscape(v any) string {
	if v == nil {
		return `\N`
	}
	s := fmt.Sprintf("%v", v)
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\t':
			out = append(out, '\\', 't')
		case '\n':
			out = append(out, '\\', 'n')
		case '\\':
			out = append(out, '\\', '\\')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func sortedColumnNames(row sqlexec.Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// copyColumnNames orders a dump row's columns per §6: value columns
// alphabetically, with modified_date always last rather than wherever it
// falls in sort order.
func copyColumnNames(row sqlexec.Row) []string {
	_, hasModifiedDate := row["modified_date"]

	cols := make([]string, 0, len(row))
	for c := range row {
		if c == "modified_date" {
			continue
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	if hasModifiedDate {
		cols = append(cols, "modified_date")
	}
	return cols
}
