// Package resync implements the Resync Engine described in §4.F: it reads
// every connected peer's full time series for each synced table and emits
// the minimal set of writes needed to converge every peer on the same
// state, breaking same-timestamp ties by a stable peer order.
package resync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/anvil-ha/anvil/internal/telemetry"
	"github.com/anvil-ha/anvil/pkg/sqlexec"
	"github.com/anvil-ha/anvil/pkg/synctables"
	"github.com/anvil-ha/anvil/pkg/upsert"
)

// Run reconciles every table in synctables.CheckList, in order, across
// every connected peer, then clears the resync_needed flag. It is meant to
// run only after the Archiver has had a chance to trim history, per the
// precondition in §4.F.
func Run(ctx context.Context, ex *sqlexec.Executor, localHostUUID string, logger *slog.Logger) error {
	for _, table := range synctables.CheckList() {
		if err := resyncTable(ctx, ex, table, localHostUUID, logger); err != nil {
			return fmt.Errorf("resync: table %s: %w", table, err)
		}
	}

	if _, err := upsert.UpsertVariable(ctx, ex, upsert.Variable{Name: "resync_needed", Value: "", Section: "sys::database"}); err != nil {
		return fmt.Errorf("resync: clearing resync flag: %w", err)
	}
	return nil
}

func resyncTable(ctx context.Context, ex *sqlexec.Executor, table, localHostUUID string, logger *slog.Logger) error {
	meta, ok, err := discoverTable(ctx, ex, table)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("resync: no uuid column discovered, skipping table", "table", table)
		return nil
	}

	peers := ex.Pool.Peers()
	order := make([]string, 0, len(peers))
	for _, p := range peers {
		order = append(order, p.UUID)
	}
	sort.Strings(order)

	data := make(map[string]peerData, len(peers))
	for _, peer := range peers {
		pd, err := fetchPeer(ctx, ex, peer, meta, localHostUUID)
		if err != nil {
			logger.Warn("resync: fetching peer data", "table", table, "peer", peer.UUID, "error", err)
			continue
		}
		data[peer.UUID] = pd
	}

	p := buildPlan(meta, data, order)

	for _, peerUUID := range order {
		statements := append(append([]sqlexec.Statement{}, p.PublicStatements[peerUUID]...), p.HistoryStatements[peerUUID]...)
		if len(statements) == 0 {
			continue
		}
		if err := ex.WriteBatch(ctx, peerUUID, statements); err != nil {
			return fmt.Errorf("writing resync batch to peer %s: %w", peerUUID, err)
		}
		if n := len(p.PublicStatements[peerUUID]); n > 0 {
			telemetry.ResyncRowsAppliedTotal.WithLabelValues(peerUUID, "public").Add(float64(n))
		}
		if n := len(p.HistoryStatements[peerUUID]); n > 0 {
			telemetry.ResyncRowsAppliedTotal.WithLabelValues(peerUUID, "history").Add(float64(n))
		}
		logger.Info("resync: applied batch", "table", table, "peer", peerUUID, "statements", len(statements))
	}

	return nil
}
