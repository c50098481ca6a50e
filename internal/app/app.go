// Package app wires every Anvil component into the long-running
// anvil-daemon process described in §4: schema bootstrap, the peer pool,
// the advisory lock, the drift detector and resync engine, the archiver,
// the job engine and shutdown orchestrator, alert raising with optional
// Slack forwarding, and the read-only admin HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anvil-ha/anvil/internal/anvilconf"
	"github.com/anvil-ha/anvil/internal/envconfig"
	"github.com/anvil-ha/anvil/internal/httpserver"
	"github.com/anvil-ha/anvil/internal/platform"
	"github.com/anvil-ha/anvil/internal/telemetry"
	"github.com/anvil-ha/anvil/pkg/alert"
	"github.com/anvil-ha/anvil/pkg/archive"
	"github.com/anvil-ha/anvil/pkg/cluster"
	"github.com/anvil-ha/anvil/pkg/dbpeer"
	"github.com/anvil-ha/anvil/pkg/drift"
	"github.com/anvil-ha/anvil/pkg/job"
	"github.com/anvil-ha/anvil/pkg/lock"
	"github.com/anvil-ha/anvil/pkg/messaging"
	"github.com/anvil-ha/anvil/pkg/resync"
	"github.com/anvil-ha/anvil/pkg/schema"
	"github.com/anvil-ha/anvil/pkg/shutdown"
	"github.com/anvil-ha/anvil/pkg/slack"
	"github.com/anvil-ha/anvil/pkg/sqlexec"
	"github.com/anvil-ha/anvil/pkg/upsert"
)

// anvilVersion is compared against each peer's variables.anvil_version row
// during connect; a mismatch excludes that peer (§4.A).
const anvilVersion = "3.0"

// FatalError is §7 kind 7 (catastrophic): a startup failure severe enough
// that the process cannot continue. main unwraps it to pick the process
// exit code instead of defaulting every error path to the same code.
type FatalError struct {
	ExitCode int
	Err      error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// errNotRoot and errNoLivePeers are the underlying sentinels FatalError
// wraps; ErrNotRoot/ErrNoLivePeers below let callers errors.Is against
// them regardless of exit-code plumbing.
var errNotRoot = errors.New("app: anvil-daemon must run as root")
var errNoLivePeers = errors.New("app: no live database peers available")

// ErrNotRoot is returned when anvil-daemon is started by a non-root user;
// every collaborator it shells out to (systemctl, pcs, drbdadm) requires
// root. Maps to exit code 1 per §6.
var ErrNotRoot = &FatalError{ExitCode: 1, Err: errNotRoot}

// ErrNoLivePeers is returned when every configured peer failed to connect
// at startup. Maps to exit code 1 per §6.
var ErrNoLivePeers = &FatalError{ExitCode: 1, Err: errNoLivePeers}

// Identity is this process's view of its own host row. Only the caller
// (cmd/anvil-daemon) knows which host it is running on.
type Identity struct {
	HostUUID string
	Hostname string
	HostType string // node, dashboard, or dr
	HostKey  string
}

// Run wires every Anvil component together and blocks until ctx is
// cancelled or a fatal startup error occurs.
func Run(ctx context.Context, env *envconfig.Config, id Identity) error {
	if os.Geteuid() != 0 {
		return ErrNotRoot
	}

	logger := telemetry.NewLogger(env.LogFormat, env.LogLevel)
	slog.SetDefault(logger)

	if env.OTLPEndpoint != "" {
		shutdownTracer, err := telemetry.InitTracer(ctx, env.OTLPEndpoint, "anvil-daemon", anvilVersion)
		if err != nil {
			return fmt.Errorf("app: initializing tracer: %w", err)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	acFile, err := anvilconf.Load(env.ConfigPath)
	if err != nil {
		return fmt.Errorf("app: loading %s: %w", env.ConfigPath, err)
	}
	peerConfigs := acFile.PeerConfigs()
	dbSettings := acFile.DatabaseSettings()

	for peerUUID, conf := range peerConfigs {
		if err := schema.Bootstrap(ctx, conf.ConnString(), conf.User); err != nil {
			logger.Warn("app: schema bootstrap failed, excluding peer", "peer", peerUUID, "error", err)
			delete(peerConfigs, peerUUID)
		}
	}

	var rdb *redis.Client
	if env.RedisEnabled() {
		rdb, err = platform.NewRedisClient(ctx, env.RedisURL)
		if err != nil {
			logger.Warn("app: redis notify bus unavailable", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	onAlert := func(peerUUID string, kind dbpeer.ConnFailKind, detail string) {
		logger.Warn("app: peer connectivity alert", "peer", peerUUID, "kind", kind, "detail", detail)
	}

	pool, err := dbpeer.Connect(ctx, peerConfigs, dbpeer.Options{
		LocalVersion:  anvilVersion,
		LocalHostUUID: id.HostUUID,
		OnAlert:       onAlert,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("app: connecting peer pool: %w", err)
	}
	defer pool.Close()
	if pool.Len() == 0 {
		return ErrNoLivePeers
	}
	for peerUUID := range peerConfigs {
		up := 0.0
		if pool.Get(peerUUID) != nil {
			up = 1.0
		}
		telemetry.PeersUp.WithLabelValues(peerUUID).Set(up)
	}

	// reconnect re-runs a single peer through the same Connect path the
	// initial pool build used, so a later reconnect sees the same version
	// check and ping probe a cold start would have.
	reconnect := func(ctx context.Context, uuid string, conf dbpeer.PeerConfig) (*dbpeer.Peer, error) {
		sub, err := dbpeer.Connect(ctx, map[string]dbpeer.PeerConfig{uuid: conf}, dbpeer.Options{
			LocalVersion:  anvilVersion,
			LocalHostUUID: id.HostUUID,
			OnAlert:       onAlert,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		peer := sub.Get(uuid)
		if peer == nil {
			return nil, fmt.Errorf("app: reconnect: peer %s did not come back up", uuid)
		}
		return peer, nil
	}

	ex := sqlexec.NewExecutor(pool, reconnect, nil, logger)
	if dbSettings.MaximumBatchSize > 0 {
		ex.MaximumBatchSize = dbSettings.MaximumBatchSize
	}

	heartbeatPath := acFile.GetDefault("sys::database::heartbeat_file", "/var/run/anvil/lock.heartbeat")
	lockMgr := lock.New(ex, id.Hostname, id.HostUUID, heartbeatPath, time.Duration(acFile.LockingReapAge())*time.Second)
	if rdb != nil {
		lockMgr.Notify = func(ctx context.Context, event string) {
			if err := rdb.Publish(ctx, "anvil:lock:changed", event).Err(); err != nil {
				logger.Warn("app: publishing lock change event", "error", err)
			}
		}
	}
	// Wired after both exist, breaking the sqlexec/lock import cycle the
	// same way the teacher's connection-pool/advisory-lock split did.
	ex.TouchLock = lockMgr.Touch

	if _, err := upsert.UpsertHost(ctx, ex, upsert.Host{
		UUID: id.HostUUID, Name: id.Hostname, Type: id.HostType, Key: id.HostKey, Status: "online",
	}); err != nil {
		logger.Warn("app: registering local host row", "error", err)
	}

	msgRegistry := messaging.NewRegistry()
	if env.SlackEnabled() {
		notifier := slack.NewNotifier(env.SlackBotToken, env.SlackAlertChannel, logger)
		msgRegistry.Register(slack.NewProvider(notifier, logger))
	}

	raiser := alert.NewRaiser(ex, upsert.HostExists)
	raiser.Notify = func(ctx context.Context, a upsert.Alert, result upsert.Result) {
		for _, p := range msgRegistry.All() {
			msg := messaging.AlertMessage{
				AlertUUID: result.UUID,
				HostUUID:  a.HostUUID,
				HostName:  id.Hostname,
				Level:     a.Level,
				Title:     a.TitleKey,
				Message:   a.MessageKey,
				RaisedAt:  time.Now(),
			}
			if _, err := p.PostAlert(ctx, msg); err != nil {
				logger.Warn("app: forwarding alert", "provider", p.Name(), "error", err)
			}
		}
	}

	orchestrator := shutdown.New(ex, cluster.ExecRunner{})
	if rdb != nil {
		defaultReportProgress := orchestrator.ReportProgress
		orchestrator.ReportProgress = func(ctx context.Context, jobUUID string, pct int, status string) error {
			if err := defaultReportProgress(ctx, jobUUID, pct, status); err != nil {
				return err
			}
			if err := rdb.Publish(ctx, "anvil:job:progress", jobUUID).Err(); err != nil {
				logger.Warn("app: publishing job progress event", "error", err)
			}
			return nil
		}
	}

	srv := httpserver.NewServer(httpserver.Config{APIKey: env.APIKey, MetricsPath: env.MetricsPath}, logger, pool.Reader().DB, rdb, metricsReg)
	srv.PeerCount = pool.Len
	srv.LockMgr = lockMgr
	srv.APIRouter.Get("/jobs", httpserver.JobsListHandler(ex, rdb))
	srv.APIRouter.Get("/jobs/{uuid}", httpserver.JobGetHandler(ex))
	srv.APIRouter.Get("/locks", httpserver.LockStatusHandler(lockMgr))

	httpSrv := &http.Server{Addr: env.ListenAddr, Handler: srv}
	go func() {
		logger.Info("app: admin http surface listening", "addr", env.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("app: http server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	// Archiving is dashboard-only per §4.G; nodes never trim history.
	if id.HostType == "dashboard" {
		archiver := archive.New(ex, acFile.ArchiveSettings(), id.Hostname, logger)
		go runPeriodic(ctx, time.Hour, logger, "archive", archiver.Run)
	}

	go runPeriodic(ctx, 30*time.Second, logger, "drift+resync", func(ctx context.Context) error {
		report, err := drift.Run(ctx, ex, logger)
		if err != nil {
			return err
		}
		for _, f := range report.Findings {
			telemetry.DriftRowsTotal.WithLabelValues(f.Peer, f.Table).Set(float64(f.RowCount))
		}
		if !report.ResyncNeeded {
			return nil
		}
		// Resyncing touches more than one row across sensitive tables, so it
		// runs under the advisory lock per §5's causality-hole guidance.
		if err := lockMgr.Request(ctx); err != nil {
			return fmt.Errorf("app: acquiring lock for resync: %w", err)
		}
		defer func() {
			if err := lockMgr.Release(ctx); err != nil {
				logger.Warn("app: releasing resync lock", "error", err)
			}
		}()
		return resync.Run(ctx, ex, id.HostUUID, logger)
	})

	runJobLoop(ctx, ex, orchestrator, raiser, rdb, id, logger)

	return nil
}

// runPeriodic ticks fn every interval until ctx is cancelled, logging (but
// never propagating) a failed pass so one bad tick doesn't bring down the
// daemon.
func runPeriodic(ctx context.Context, interval time.Duration, logger *slog.Logger, name string, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := fn(ctx); err != nil {
			logger.Error("app: periodic task failed", "task", name, "error", err)
		}
	}
}

// runJobLoop polls for a pending job assigned to this host and drives it
// through the shutdown orchestrator (§4.I/§4.J). It blocks until ctx is
// cancelled.
func runJobLoop(ctx context.Context, ex *sqlexec.Executor, orchestrator *shutdown.Orchestrator, raiser *alert.Raiser, rdb *redis.Client, id Identity, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	pid := int64(os.Getpid())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		j, err := job.Claim(ctx, ex, id.HostUUID, pid)
		if err != nil {
			if !errors.Is(err, job.ErrNoJobAvailable) && !errors.Is(err, job.ErrRaceLost) {
				logger.Error("app: claiming job", "error", err)
			}
			continue
		}

		logger.Info("app: claimed job", "job", j.UUID, "command", j.Command)
		telemetry.JobsClaimedTotal.WithLabelValues(j.Command).Inc()
		if rdb != nil {
			if err := rdb.Publish(ctx, "anvil:job:claimed", j.UUID).Err(); err != nil {
				logger.Warn("app: publishing job claimed event", "error", err)
			}
		}

		start := time.Now()
		runErr := orchestrator.Run(ctx, j.UUID, parseShutdownInput(j.Data, id))
		status := "ok"
		if runErr != nil {
			status = "failed"
		}
		telemetry.JobDuration.WithLabelValues(j.Command, status).Observe(time.Since(start).Seconds())

		if runErr != nil {
			logger.Error("app: job failed", "job", j.UUID, "error", runErr)
			if _, alertErr := raiser.Raise(ctx, upsert.Alert{
				HostUUID:   id.HostUUID,
				SetBy:      "anvil-daemon",
				Level:      "critical",
				TitleKey:   "job_failed",
				MessageKey: runErr.Error(),
				Sort:       1,
			}); alertErr != nil {
				logger.Warn("app: raising job-failure alert", "error", alertErr)
			}
		}
	}
}

// parseShutdownInput reads the withdraw workflow's job_data (§4.J's
// key=value-per-line convention, the same one anvil.conf itself uses) into
// a shutdown.Input.
func parseShutdownInput(data string, id Identity) shutdown.Input {
	in := shutdown.Input{
		HostUUID:   id.HostUUID,
		HostName:   id.Hostname,
		HostType:   id.HostType,
		HostKey:    id.HostKey,
		LocalNode:  id.Hostname,
		StopReason: shutdown.ReasonUser,
	}

	for _, line := range strings.Split(data, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "power-off":
			in.PowerOff = value == "1" || value == "true"
		case "stop-reason":
			in.StopReason = shutdown.StopReason(value)
		case "stop-servers":
			in.StopServers = value == "1" || value == "true"
		case "peer-node":
			in.PeerNode = value
		}
	}
	return in
}
