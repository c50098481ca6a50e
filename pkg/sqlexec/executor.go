package sqlexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/anvil-ha/anvil/pkg/dbpeer"
)

// Row is one returned row, column name to value.
type Row map[string]any

// Reconnector attempts to re-establish a single failed peer and add it back
// to the pool. Wired to dbpeer.Connect for one peer in production; tests may
// substitute a stub.
type Reconnector func(ctx context.Context, uuid string, conf dbpeer.PeerConfig) (*dbpeer.Peer, error)

// LockTouch is called before every executor operation so the lock manager
// can auto-renew a held lock and touch its heartbeat file when the lock's
// age exceeds half its reap age (§4.H). Injected to avoid an import cycle
// between sqlexec and the lock package.
type LockTouch func(ctx context.Context)

// Executor is the single entry point for reading from and writing to the
// peer pool. It owns the handle liveness test and automatic reader
// failover described in §4.C.
type Executor struct {
	Pool             *dbpeer.Pool
	MaximumBatchSize int // default 25000, per spec
	Reconnect        Reconnector
	TouchLock        LockTouch
	Logger           *slog.Logger
}

// NewExecutor constructs an Executor with the spec's default batch size.
func NewExecutor(pool *dbpeer.Pool, reconnect Reconnector, touchLock LockTouch, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Pool:             pool,
		MaximumBatchSize: 25000,
		Reconnect:        reconnect,
		TouchLock:        touchLock,
		Logger:           logger,
	}
}

// Query runs a read against the reader peer (or a named peer), after the
// handle liveness test and the lock-age touch.
func (e *Executor) Query(ctx context.Context, peerUUID, sql string, args ...any) ([]Row, error) {
	if e.TouchLock != nil {
		e.TouchLock(ctx)
	}

	peer := e.pickPeer(peerUUID)
	if peer == nil {
		return nil, fmt.Errorf("sqlexec: no live peer available for query")
	}
	if !e.livenessCheck(ctx, peer) {
		peer = e.Pool.Reader()
		if peer == nil {
			return nil, fmt.Errorf("sqlexec: no live peer available after liveness check")
		}
	}

	rows, err := peer.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlexec: query against peer %s: %w", peer.UUID, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Exec runs a single write against the reader peer (or a named peer) and
// returns the number of affected rows, for callers that need to detect a
// zero-rows-affected race (the Job Engine's claim protocol, §4.I).
func (e *Executor) Exec(ctx context.Context, peerUUID, sql string, args ...any) (int64, error) {
	if e.TouchLock != nil {
		e.TouchLock(ctx)
	}

	peer := e.pickPeer(peerUUID)
	if peer == nil {
		return 0, fmt.Errorf("sqlexec: no live peer available for exec")
	}
	if !e.livenessCheck(ctx, peer) {
		peer = e.Pool.Reader()
		if peer == nil {
			return 0, fmt.Errorf("sqlexec: no live peer available after liveness check")
		}
	}

	tag, err := peer.DB.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlexec: exec against peer %s: %w", peer.UUID, err)
	}
	return tag.RowsAffected(), nil
}

func (e *Executor) pickPeer(peerUUID string) *dbpeer.Peer {
	if peerUUID != "" {
		return e.Pool.Get(peerUUID)
	}
	return e.Pool.Reader()
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("sqlexec: scanning row: %w", err)
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlexec: iterating rows: %w", err)
	}
	return out, nil
}

// Statement is one SQL statement with its bound arguments, for batched
// writes.
type Statement struct {
	SQL  string
	Args []any
}

// WriteBatch executes statements against a single named peer, or against
// every connected peer in handle order when peerUUID is empty (§4.C).
// Statements are chunked at MaximumBatchSize; each chunk runs in one
// transaction per peer.
func (e *Executor) WriteBatch(ctx context.Context, peerUUID string, statements []Statement) error {
	if e.TouchLock != nil {
		e.TouchLock(ctx)
	}

	var targets []*dbpeer.Peer
	if peerUUID != "" {
		peer := e.Pool.Get(peerUUID)
		if peer == nil {
			return fmt.Errorf("sqlexec: unknown peer %s", peerUUID)
		}
		targets = []*dbpeer.Peer{peer}
	} else {
		targets = e.Pool.Peers()
	}

	for _, peer := range targets {
		if !e.livenessCheck(ctx, peer) {
			continue // handle liveness test already removed it from the pool
		}
		if err := e.writeBatchToPeer(ctx, peer, statements); err != nil {
			return err
		}
	}
	return nil
}

// chunkBounds splits total items into [start,end) ranges of at most size
// items each, in order. Extracted from writeBatchToPeer so the spec's
// boundary behaviour ("exactly maximum_batch_size executes in one chunk;
// maximum_batch_size+1 executes in two") is directly testable without a
// database.
func chunkBounds(total, size int) [][2]int {
	if size <= 0 {
		size = total
	}
	var bounds [][2]int
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}

func (e *Executor) writeBatchToPeer(ctx context.Context, peer *dbpeer.Peer, statements []Statement) error {
	for _, b := range chunkBounds(len(statements), e.MaximumBatchSize) {
		chunk := statements[b[0]:b[1]]

		tx, err := peer.DB.Begin(ctx)
		if err != nil {
			return fmt.Errorf("sqlexec: beginning transaction on peer %s: %w", peer.UUID, err)
		}

		for _, stmt := range chunk {
			if _, err := tx.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("sqlexec: executing statement on peer %s: %w", peer.UUID, err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("sqlexec: committing transaction on peer %s: %w", peer.UUID, err)
		}
	}
	return nil
}

// livenessCheck runs the non-blocking driver-level ping described in §4.C.
// On failure it demotes the reader if needed, removes the handle, sleeps 5s,
// and attempts one reconnect; if the pool then has zero live peers, the
// process exits with code 1. It returns true when the peer is (still, or
// again) usable.
func (e *Executor) livenessCheck(ctx context.Context, peer *dbpeer.Peer) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := peer.DB.Ping(pingCtx); err == nil {
		return true
	}

	e.Logger.Warn("sqlexec: handle liveness test failed", "peer", peer.UUID)
	wasReader := e.Pool.Reader() != nil && e.Pool.Reader().UUID == peer.UUID
	e.Pool.Remove(peer.UUID)
	_ = wasReader // reader reassignment already happened inside Pool.Remove

	time.Sleep(5 * time.Second)

	if e.Reconnect != nil {
		newPeer, err := e.Reconnect(ctx, peer.UUID, peer.Conf)
		if err == nil && newPeer != nil {
			e.Pool.Add(newPeer)
			return true
		}
		e.Logger.Warn("sqlexec: reconnect attempt failed", "peer", peer.UUID, "error", err)
	}

	if e.Pool.Len() == 0 {
		e.Logger.Error("sqlexec: zero live peers remain, exiting")
		os.Exit(1)
	}
	return false
}
