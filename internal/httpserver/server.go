package httpserver

import (
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/anvil-ha/anvil/pkg/lock"
)

// Version and Commit are set at build time via -ldflags; they default to
// "dev"/"" so a locally built binary still reports something sane.
var (
	Version = "dev"
	Commit  = ""
)

// Server is Anvil's thin admin surface: health/readiness probes, Prometheus
// metrics, a version/status page, and a read-only JSON window (mounted by
// callers onto APIRouter) onto job and lock state for the out-of-scope CGI
// dashboard to consume. It never accepts a write.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router // API-key authenticated /api/v1 sub-router
	Logger    *slog.Logger
	DB        *pgxpool.Pool // the local peer, used for readiness and status
	Redis     *redis.Client // nil when the optional notify bus isn't configured
	Metrics   *prometheus.Registry
	startedAt time.Time

	// PeerCount and LockMgr are set by the caller after NewServer so
	// /status can report live peer count and the current lock holder
	// without NewServer itself depending on the peer pool's constructor
	// order. Both may be left nil/zero.
	PeerCount func() int
	LockMgr   *lock.Manager
}

// Config holds the settings NewServer needs beyond its explicit arguments.
type Config struct {
	CORSAllowedOrigins []string
	APIKey             string
	MetricsPath        string // defaults to "/metrics" when empty
}

// NewServer creates the admin HTTP server with middleware and health/metrics
// endpoints mounted. Domain handlers (jobs, locks) should be mounted onto
// APIRouter after calling NewServer. rdb may be nil when the optional notify
// bus is not configured.
func NewServer(cfg Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Unauthenticated operational endpoints.
	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/status", s.HandleStatus)
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s.Router.Handle(metricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireAPIKey(cfg.APIKey))
		s.APIRouter = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			s.Logger.Error("readiness check: redis ping failed", "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "notify bus not ready")
			return
		}
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the JSON shape returned by HandleStatus.
type statusResponse struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	CommitSHA       string  `json:"commit_sha"`
	Uptime          string  `json:"uptime"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Database        string  `json:"database"`
	DatabaseLatency float64 `json:"database_latency_ms"`
	NotifyBus       string  `json:"notify_bus"`
	PeerCount       int     `json:"peer_count,omitempty"`
	LockHeld        bool    `json:"lock_held"`
	LockHolder      string  `json:"lock_holder,omitempty"`
}

// HandleStatus reports version, uptime, and connectivity to the local peer
// and the optional notify bus.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uptime := time.Since(s.startedAt)

	resp := statusResponse{
		Version:       Version,
		CommitSHA:     Commit,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		NotifyBus:     "disabled",
	}

	dbStart := time.Now()
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("status check: database ping failed", "error", err)
		resp.Database = "error"
	} else {
		resp.Database = "ok"
	}
	resp.DatabaseLatency = math.Round(float64(time.Since(dbStart).Microseconds())/10) / 100

	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			resp.NotifyBus = "error"
		} else {
			resp.NotifyBus = "ok"
		}
	}

	if s.PeerCount != nil {
		resp.PeerCount = s.PeerCount()
	}
	if s.LockMgr != nil {
		if status, err := s.LockMgr.Status(ctx); err == nil {
			resp.LockHeld = status.Held
			resp.LockHolder = status.Hostname
		}
	}

	resp.Status = "ok"
	if resp.Database != "ok" {
		resp.Status = "degraded"
	}

	Respond(w, http.StatusOK, resp)
}
