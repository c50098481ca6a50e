// Package lock implements the cluster-wide advisory lock described in
// §4.H: a single logical lock stored as a Variable row named
// "lock_request", whose value carries the holder's identity and the time
// it was last renewed, backed by a heartbeat file for out-of-process
// liveness probes that don't need a database round trip.
package lock

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anvil-ha/anvil/internal/telemetry"
	"github.com/anvil-ha/anvil/pkg/sqlexec"
	"github.com/anvil-ha/anvil/pkg/upsert"
)

const variableName = "lock_request"

// Manager holds one process's view of the cluster lock.
type Manager struct {
	Executor      *sqlexec.Executor
	Hostname      string
	HostUUID      string
	ReapAge       time.Duration
	HeartbeatPath string
	RetryInterval time.Duration // default 5s per §4.H
	Now           func() time.Time

	// Notify, when set, is called after the lock is claimed or released so
	// callers can publish an "anvil:lock:changed" event over the optional
	// Redis notify bus. Left nil when the bus isn't configured.
	Notify func(ctx context.Context, event string)
}

// New constructs a Manager with the spec's default 5-second retry interval.
func New(ex *sqlexec.Executor, hostname, hostUUID, heartbeatPath string, reapAge time.Duration) *Manager {
	return &Manager{
		Executor:      ex,
		Hostname:      hostname,
		HostUUID:      hostUUID,
		ReapAge:       reapAge,
		HeartbeatPath: heartbeatPath,
		RetryInterval: 5 * time.Second,
		Now:           time.Now,
	}
}

// holder is a parsed lock_request value.
type holder struct {
	Hostname string
	HostUUID string
	At       time.Time
}

func (h holder) isLocal(m *Manager) bool {
	return h.HostUUID == m.HostUUID
}

func (h holder) encode() string {
	return fmt.Sprintf("%s::%s::%d", h.Hostname, h.HostUUID, h.At.Unix())
}

func parseHolder(raw string) (holder, bool) {
	if raw == "" {
		return holder{}, false
	}
	parts := strings.SplitN(raw, "::", 3)
	if len(parts) != 3 {
		return holder{}, false
	}
	sec, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return holder{}, false
	}
	return holder{Hostname: parts[0], HostUUID: parts[1], At: time.Unix(sec, 0)}, true
}

// Check returns the current lock string, or "" if no lock is held.
func (m *Manager) Check(ctx context.Context) (string, error) {
	return upsert.GetVariable(ctx, m.Executor, variableName, "")
}

// Request loops until the lock is free or reaped, then claims it. It only
// returns once the lock is held by this host, or ctx is cancelled.
func (m *Manager) Request(ctx context.Context) error {
	for {
		raw, err := m.Check(ctx)
		if err != nil {
			return fmt.Errorf("lock: checking current holder: %w", err)
		}

		h, held := parseHolder(raw)
		if !held || m.Now().Sub(h.At) > m.ReapAge {
			if err := m.claim(ctx); err != nil {
				return err
			}
			return nil
		}
		if h.isLocal(m) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.RetryInterval):
		}
	}
}

func (m *Manager) claim(ctx context.Context) error {
	h := holder{Hostname: m.Hostname, HostUUID: m.HostUUID, At: m.Now()}
	if _, err := upsert.UpsertVariable(ctx, m.Executor, upsert.Variable{Name: variableName, Value: h.encode()}); err != nil {
		return fmt.Errorf("lock: claiming lock: %w", err)
	}
	if err := m.writeHeartbeat(h.At); err != nil {
		return err
	}
	if m.Notify != nil {
		m.Notify(ctx, "claimed")
	}
	return nil
}

// Renew overwrites the lock's timestamp unconditionally. Idempotent.
func (m *Manager) Renew(ctx context.Context) error {
	h := holder{Hostname: m.Hostname, HostUUID: m.HostUUID, At: m.Now()}
	if _, err := upsert.UpsertVariable(ctx, m.Executor, upsert.Variable{Name: variableName, Value: h.encode()}); err != nil {
		return fmt.Errorf("lock: renewing lock: %w", err)
	}
	return m.writeHeartbeat(h.At)
}

// Release blanks out the lock value if this host currently holds it.
func (m *Manager) Release(ctx context.Context) error {
	raw, err := m.Check(ctx)
	if err != nil {
		return fmt.Errorf("lock: checking current holder: %w", err)
	}
	h, held := parseHolder(raw)
	if !held || !h.isLocal(m) {
		return nil
	}
	if _, err := upsert.UpsertVariable(ctx, m.Executor, upsert.Variable{Name: variableName, Value: ""}); err != nil {
		return fmt.Errorf("lock: releasing lock: %w", err)
	}
	if m.Notify != nil {
		m.Notify(ctx, "released")
	}
	return nil
}

// Touch implements the auto-renew behaviour §4.H describes for every
// executor call: if the local process holds a live lock and its age
// exceeds half the reap age, renew it and re-stamp the heartbeat. Errors
// are swallowed (logged by the caller's discretion) since this runs on
// every query's hot path and must never block normal operation.
func (m *Manager) Touch(ctx context.Context) {
	raw, err := m.Check(ctx)
	if err != nil {
		return
	}
	h, held := parseHolder(raw)
	if !held || !h.isLocal(m) {
		return
	}
	if m.Now().Sub(h.At) > m.ReapAge/2 {
		_ = m.Renew(ctx)
	}
}

func (m *Manager) writeHeartbeat(at time.Time) error {
	if m.HeartbeatPath == "" {
		return nil
	}
	body := strconv.FormatInt(at.Unix(), 10)
	if err := os.WriteFile(m.HeartbeatPath, []byte(body), 0o600); err != nil {
		return fmt.Errorf("lock: writing heartbeat file %s: %w", m.HeartbeatPath, err)
	}
	return nil
}

// Status is the JSON-friendly view of the lock's current holder, for the
// admin HTTP surface's read-only lock endpoint.
type Status struct {
	Held     bool      `json:"held"`
	Hostname string    `json:"hostname,omitempty"`
	HostUUID string    `json:"host_uuid,omitempty"`
	SetAt    time.Time `json:"set_at,omitempty"`
	AgeS     float64   `json:"age_seconds,omitempty"`
}

// Status reports the current lock holder without taking any action.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	raw, err := m.Check(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("lock: checking current holder: %w", err)
	}
	h, held := parseHolder(raw)
	if !held {
		telemetry.LockHolderAgeSeconds.WithLabelValues(variableName).Set(0)
		return Status{}, nil
	}
	age := m.Now().Sub(h.At).Seconds()
	telemetry.LockHolderAgeSeconds.WithLabelValues(variableName).Set(age)
	return Status{
		Held:     true,
		Hostname: h.Hostname,
		HostUUID: h.HostUUID,
		SetAt:    h.At,
		AgeS:     age,
	}, nil
}

// HeartbeatAge reads the heartbeat file and returns how long ago it was
// stamped, for out-of-process liveness probes that should not touch the
// database.
func HeartbeatAge(path string, now time.Time) (time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("lock: reading heartbeat file %s: %w", path, err)
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lock: parsing heartbeat file %s: %w", path, err)
	}
	return now.Sub(time.Unix(sec, 0)), nil
}
