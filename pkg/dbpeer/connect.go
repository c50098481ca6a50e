package dbpeer

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnFailKind classifies a connection failure by substring match on the
// driver error, per the spec's error taxonomy (§7.2).
type ConnFailKind string

const (
	FailRouteUnreachable  ConnFailKind = "route_unreachable"
	FailNoPassword        ConnFailKind = "no_password_supplied"
	FailPasswordRejected  ConnFailKind = "password_rejected"
	FailConnectionRefused ConnFailKind = "connection_refused"
	FailNameResolution    ConnFailKind = "name_resolution_failure"
	FailGeneric           ConnFailKind = "generic"
)

// ClassifyConnError maps a driver error to one of the taxonomy's connectivity
// kinds by substring, since pgx/libpq do not expose a stable typed error for
// most of these conditions.
func ClassifyConnError(err error) ConnFailKind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no route to host"):
		return FailRouteUnreachable
	case strings.Contains(msg, "password authentication failed"):
		return FailPasswordRejected
	case strings.Contains(msg, "no password supplied") || strings.Contains(msg, "password is required"):
		return FailNoPassword
	case strings.Contains(msg, "connection refused"):
		return FailConnectionRefused
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "lookup"):
		return FailNameResolution
	default:
		return FailGeneric
	}
}

// AlertFunc is called with the classified kind of each peer connectivity
// failure Connect observes. Connect does not deduplicate these calls, and
// anvil-daemon's callback only logs the failure; no alert row is written.
type AlertFunc func(peerUUID string, kind ConnFailKind, detail string)

// Options configures a Connect call.
type Options struct {
	LocalVersion  string // this process's Anvil version string
	LocalHostUUID string // used to prefer a local reader and validated post-connect
	OnAlert       AlertFunc
	Logger        *slog.Logger
}

// Pool is a live set of peer handles plus the selected reader.
type Pool struct {
	peers  map[string]*Peer // keyed by peer UUID
	order  []string         // peer UUIDs in deterministic (sorted) iteration order
	reader string           // UUID of the peer selected for reads
}

// Peer is one live connected peer.
type Peer struct {
	UUID string
	Conf PeerConfig
	DB   *pgxpool.Pool
}

// Peers returns the live peers in deterministic order.
func (p *Pool) Peers() []*Peer {
	out := make([]*Peer, 0, len(p.order))
	for _, uuid := range p.order {
		out = append(out, p.peers[uuid])
	}
	return out
}

// Get returns the live peer with the given UUID, or nil.
func (p *Pool) Get(uuid string) *Peer {
	return p.peers[uuid]
}

// Reader returns the peer currently designated for reads, or nil if the pool
// is empty.
func (p *Pool) Reader() *Peer {
	return p.peers[p.reader]
}

// Len reports the number of live peers.
func (p *Pool) Len() int {
	return len(p.peers)
}

// SetReader overrides the reader selection, used when the handle liveness
// test demotes the current reader (§4.C).
func (p *Pool) SetReader(uuid string) {
	p.reader = uuid
}

// Remove drops a peer from the pool, used after a handle liveness failure
// exhausts its reconnect attempt (§4.C).
func (p *Pool) Remove(uuid string) {
	if peer, ok := p.peers[uuid]; ok {
		if peer.DB != nil {
			peer.DB.Close()
		}
		delete(p.peers, uuid)
	}
	for i, u := range p.order {
		if u == uuid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.reader == uuid {
		if len(p.order) > 0 {
			p.reader = p.order[0]
		} else {
			p.reader = ""
		}
	}
}

// Add inserts a newly (re)connected peer into the pool, used by the
// executor's single-peer reconnect attempt (§4.C).
func (p *Pool) Add(peer *Peer) {
	if _, exists := p.peers[peer.UUID]; !exists {
		p.order = append(p.order, peer.UUID)
		sort.Strings(p.order)
	}
	p.peers[peer.UUID] = peer
	if p.reader == "" {
		p.reader = peer.UUID
	}
}

// Close closes every live peer handle.
func (p *Pool) Close() {
	for _, peer := range p.peers {
		peer.DB.Close()
	}
}

// Connect opens and verifies a pool of peer handles per §4.A. It never
// returns an error for an individual peer failing to connect — those are
// logged and excluded. It returns an error only when ctx is already done;
// callers must check Pool.Len() == 0 to
// detect the "complete failure" case described in the spec.
func Connect(ctx context.Context, peers map[string]PeerConfig, opts Options) (*Pool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool := &Pool{peers: make(map[string]*Peer)}

	// Step 1: dedup by host:port.
	seenTargets := make(map[string]string) // target -> first peer UUID claiming it
	var uuidsInOrder []string
	for uuid := range peers {
		uuidsInOrder = append(uuidsInOrder, uuid)
	}
	sort.Strings(uuidsInOrder)

	for _, uuid := range uuidsInOrder {
		cfg := peers[uuid]
		target := cfg.target()
		if first, dup := seenTargets[target]; dup {
			logger.Warn("dbpeer: duplicate peer target skipped", "target", target, "peer", uuid, "first_seen_as", first)
			continue
		}
		seenTargets[target] = uuid

		peer, ok := connectOne(ctx, uuid, cfg, opts, logger)
		if !ok {
			continue
		}
		pool.peers[uuid] = peer
		pool.order = append(pool.order, uuid)
	}

	sort.Strings(pool.order)
	pool.reader = selectReader(pool, opts.LocalHostUUID)

	return pool, nil
}

// connectOne runs steps 2-4 of §4.A for a single configured peer.
func connectOne(ctx context.Context, uuid string, cfg PeerConfig, opts Options, logger *slog.Logger) (*Peer, bool) {
	// Step 2: ping probe. True ICMP requires raw-socket privilege this
	// process does not assume it has, so reachability is approximated with
	// a bounded TCP dial to the configured port — a failure here means "not
	// worth attempting the real database connection".
	if cfg.PingTimeoutS > 0 {
		timeout := time.Duration(cfg.PingTimeoutS) * time.Second
		conn, err := net.DialTimeout("tcp", cfg.target(), timeout)
		if err != nil {
			logger.Warn("dbpeer: ping probe failed, excluding peer", "peer", uuid, "target", cfg.target(), "error", err)
			return nil, false
		}
		conn.Close()
	}

	// Step 4: connect.
	pgCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		logger.Error("dbpeer: invalid connection string", "peer", uuid, "error", err)
		return nil, false
	}
	pgCfg.MaxConns = 4

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := pgxpool.NewWithConfig(connectCtx, pgCfg)
	if err != nil {
		reportConnFailure(uuid, err, opts, logger)
		return nil, false
	}
	if err := db.Ping(connectCtx); err != nil {
		db.Close()
		reportConnFailure(uuid, err, opts, logger)
		return nil, false
	}

	// Step 3 (merged with step 4 for technical necessity — see DESIGN.md):
	// a version mismatch can only be detected once connected, since the
	// peer's advertised version lives in its own database.
	if opts.LocalVersion != "" {
		var remoteVersion string
		verErr := db.QueryRow(connectCtx, `SELECT value FROM variables WHERE name = 'anvil_version'`).Scan(&remoteVersion)
		if verErr == nil && remoteVersion != "" && remoteVersion != opts.LocalVersion {
			logger.Warn("dbpeer: version mismatch, excluding peer",
				"peer", uuid, "local_version", opts.LocalVersion, "remote_version", remoteVersion)
			db.Close()
			return nil, false
		}
	}

	return &Peer{UUID: uuid, Conf: cfg, DB: db}, true
}

func reportConnFailure(uuid string, err error, opts Options, logger *slog.Logger) {
	kind := ClassifyConnError(err)
	logger.Warn("dbpeer: connection failed", "peer", uuid, "kind", kind, "error", err)
	if opts.OnAlert != nil {
		opts.OnAlert(uuid, kind, err.Error())
	}
}

// selectReader prefers a peer whose host identifies the local machine,
// falling back to the first connected peer in deterministic order.
func selectReader(pool *Pool, localHostUUID string) string {
	if len(pool.order) == 0 {
		return ""
	}

	hostname, _ := os.Hostname()
	shortHostname := hostname
	if idx := strings.IndexByte(hostname, '.'); idx > 0 {
		shortHostname = hostname[:idx]
	}

	for _, uuid := range pool.order {
		peer := pool.peers[uuid]
		h := peer.Conf.Host
		switch {
		case h == hostname, h == shortHostname, h == "localhost", h == "127.0.0.1":
			return uuid
		case localHostUUID != "" && uuid == localHostUUID:
			return uuid
		}
	}
	return pool.order[0]
}
