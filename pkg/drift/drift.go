// Package drift implements the Drift Detector described in §4.E: a
// read-only scan that compares each connected peer's newest timestamp and
// row count, per synced table, against the maximum seen across all peers.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/anvil-ha/anvil/pkg/dbpeer"
	"github.com/anvil-ha/anvil/pkg/sqlexec"
	"github.com/anvil-ha/anvil/pkg/synctables"
	"github.com/anvil-ha/anvil/pkg/upsert"
)

// TableFinding is one table's reading for one peer.
type TableFinding struct {
	Table       string
	Peer        string
	LastUpdated int64 // rounded epoch seconds of the newest modified_date seen
	RowCount    int
	Behind      bool
}

// Report is the outcome of one full Drift Detector pass.
type Report struct {
	Findings     []TableFinding
	BehindPeers  map[string]bool // peer UUID -> behind on at least one table
	ResyncNeeded bool
}

// Run scans every table in synctables.CheckList across every connected
// peer, updates the shared resync_needed variable when any peer is found
// behind, and demotes a behind reader. It never blocks on a write and never
// returns a fatal error for an individual table — a table or peer that
// cannot be scanned is logged and skipped.
func Run(ctx context.Context, ex *sqlexec.Executor, logger *slog.Logger) (Report, error) {
	report := Report{BehindPeers: make(map[string]bool)}

	peers := ex.Pool.Peers()
	sort.Slice(peers, func(i, j int) bool { return peers[i].UUID < peers[j].UUID })

	for _, table := range synctables.CheckList() {
		maxLastUpdated := int64(-1)
		maxRowCount := -1
		var perPeer []TableFinding

		for _, peer := range peers {
			exists, err := tableExists(ctx, ex, peer.UUID, "public", table)
			if err != nil {
				logger.Warn("drift: checking table existence", "table", table, "peer", peer.UUID, "error", err)
				continue
			}
			if !exists {
				continue
			}

			schema := "public"
			if historyExists, err := tableExists(ctx, ex, peer.UUID, "history", table); err == nil && historyExists {
				schema = "history"
			}

			hostCol, filtered, err := hostUUIDColumn(ctx, ex, peer.UUID, schema, table)
			if err != nil {
				logger.Warn("drift: discovering host column", "table", table, "peer", peer.UUID, "error", err)
				continue
			}

			lastUpdated, rowCount, err := probe(ctx, ex, peer.UUID, schema, table, hostCol, filtered, peer.UUID)
			if err != nil {
				logger.Warn("drift: probing table", "table", table, "peer", peer.UUID, "error", err)
				continue
			}

			perPeer = append(perPeer, TableFinding{Table: table, Peer: peer.UUID, LastUpdated: lastUpdated, RowCount: rowCount})
			if lastUpdated > maxLastUpdated {
				maxLastUpdated = lastUpdated
			}
			if rowCount > maxRowCount {
				maxRowCount = rowCount
			}
		}

		for i := range perPeer {
			f := &perPeer[i]
			if f.LastUpdated < maxLastUpdated || f.RowCount < maxRowCount {
				f.Behind = true
				report.BehindPeers[f.Peer] = true
			}
		}
		report.Findings = append(report.Findings, perPeer...)
	}

	if len(report.BehindPeers) > 0 {
		report.ResyncNeeded = true
		if _, err := upsert.UpsertVariable(ctx, ex, upsert.Variable{Name: "resync_needed", Value: "1", Section: "sys::database"}); err != nil {
			return report, fmt.Errorf("drift: recording resync flag: %w", err)
		}
		if reader := ex.Pool.Reader(); reader != nil && report.BehindPeers[reader.UUID] {
			demoteReader(ex.Pool, peers, report.BehindPeers)
		}
	}

	return report, nil
}

// demoteReader reassigns the reader to the first connected peer (in stable
// UUID order) that is not marked behind, falling back to leaving the
// current reader if every peer is behind.
func demoteReader(pool *dbpeer.Pool, peers []*dbpeer.Peer, behind map[string]bool) {
	current := pool.Reader()
	for _, p := range peers {
		if p.UUID == current.UUID || behind[p.UUID] {
			continue
		}
		pool.SetReader(p.UUID)
		return
	}
}

func tableExists(ctx context.Context, ex *sqlexec.Executor, peerUUID, schema, table string) (bool, error) {
	rows, err := ex.Query(ctx, peerUUID, `SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`, schema, table)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// hostUUIDColumn reports the first column matching "%_host_uuid" on the
// given table, if any.
func hostUUIDColumn(ctx context.Context, ex *sqlexec.Executor, peerUUID, schema, table string) (string, bool, error) {
	rows, err := ex.Query(ctx, peerUUID, `SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 AND column_name LIKE '%\_host\_uuid' ESCAPE '\'`, schema, table)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return fmt.Sprintf("%v", rows[0]["column_name"]), true, nil
}

// probe runs the §4.E.4 query: distinct rounded epoch seconds of
// modified_date, descending. The first row is last_updated; the number of
// distinct values returned is row_count.
func probe(ctx context.Context, ex *sqlexec.Executor, peerUUID, schema, table, hostCol string, filtered bool, localHostUUID string) (int64, int, error) {
	sql := fmt.Sprintf(`SELECT DISTINCT round(extract(epoch FROM modified_date)) AS ts FROM %s.%s`, schema, table)
	var args []any
	if filtered {
		sql += fmt.Sprintf(" WHERE %s = $1", hostCol)
		args = append(args, localHostUUID)
	}
	sql += " ORDER BY ts DESC"

	rows, err := ex.Query(ctx, peerUUID, sql, args...)
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}

	lastUpdated, err := toInt64(rows[0]["ts"])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing ts: %w", err)
	}
	return lastUpdated, len(rows), nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		s := strings.TrimSpace(fmt.Sprintf("%v", n))
		var out int64
		if _, err := fmt.Sscanf(s, "%d", &out); err != nil {
			return 0, err
		}
		return out, nil
	}
}
