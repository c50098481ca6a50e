package resync

import (
	"context"
	"fmt"
	"time"

	"github.com/anvil-ha/anvil/pkg/dbpeer"
	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// snapshot is one row's value at one point in time, keyed by (uuid,
// modified_date) when stored in a peerData map.
type snapshot struct {
	UUID         string
	ModifiedDate time.Time
	Values       map[string]any // every column except the uuid column and modified_date
}

type timeKey struct {
	UUID         string
	ModifiedDate time.Time
}

// peerData is everything fetched from one peer for one table.
type peerData struct {
	PeerUUID string
	// ExistsPublic is the set of UUIDs currently present in the public table.
	ExistsPublic map[string]bool
	// CurrentValues holds the public table's current row values per UUID.
	CurrentValues map[string]snapshot
	// Known is every (uuid, modified_date) pair this peer already has,
	// whether from its public row or its history table.
	Known map[timeKey]snapshot
}

// fetchPeer reads a table's full time series from one peer: its current
// public rows, plus its history rows when the table has one, per §4.F.4.
func fetchPeer(ctx context.Context, ex *sqlexec.Executor, peer *dbpeer.Peer, meta tableMeta, localHostUUID string) (peerData, error) {
	data := peerData{
		PeerUUID:      peer.UUID,
		ExistsPublic:  make(map[string]bool),
		CurrentValues: make(map[string]snapshot),
		Known:         make(map[timeKey]snapshot),
	}

	publicRows, err := queryAll(ctx, ex, peer.UUID, "public", meta, localHostUUID)
	if err != nil {
		return data, err
	}
	for _, s := range publicRows {
		data.ExistsPublic[s.UUID] = true
		data.CurrentValues[s.UUID] = s
		data.Known[timeKey{s.UUID, s.ModifiedDate}] = s
	}

	if meta.HasHistory {
		historyRows, err := queryAll(ctx, ex, peer.UUID, "history", meta, localHostUUID)
		if err != nil {
			return data, err
		}
		for _, s := range historyRows {
			key := timeKey{s.UUID, s.ModifiedDate}
			if _, already := data.Known[key]; !already {
				data.Known[key] = s
			}
		}
	}

	return data, nil
}

func queryAll(ctx context.Context, ex *sqlexec.Executor, peerUUID, schema string, meta tableMeta, localHostUUID string) ([]snapshot, error) {
	sql := fmt.Sprintf("SELECT * FROM %s.%s", schema, meta.Table)
	var args []any
	if meta.HostColumn != "" {
		sql += fmt.Sprintf(" WHERE %s = $1", meta.HostColumn)
		args = append(args, localHostUUID)
	}
	sql += " ORDER BY modified_date DESC"

	rows, err := ex.Query(ctx, peerUUID, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("resync: reading %s.%s from peer %s: %w", schema, meta.Table, peerUUID, err)
	}

	out := make([]snapshot, 0, len(rows))
	for _, row := range rows {
		uuidVal, ok := row[meta.UUIDColumn]
		if !ok || uuidVal == nil {
			continue
		}
		modVal, ok := row["modified_date"]
		if !ok || modVal == nil {
			continue
		}
		mod, err := asTime(modVal)
		if err != nil {
			continue
		}

		values := make(map[string]any, len(row))
		for k, v := range row {
			if k == meta.UUIDColumn || k == "modified_date" || k == "history_id" {
				continue
			}
			values[k] = v
		}

		out = append(out, snapshot{
			UUID:         fmt.Sprintf("%v", uuidVal),
			ModifiedDate: mod,
			Values:       values,
		})
	}
	return out, nil
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("resync: modified_date value %v is not a timestamp", v)
	}
}
