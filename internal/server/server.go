package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/haskel/dermfox/internal/config"
	"github.com/haskel/dermfox/internal/history"
	"github.com/haskel/dermfox/internal/inference"
	"github.com/haskel/dermfox/internal/intake"
	"github.com/haskel/dermfox/internal/metrics"
	"github.com/haskel/dermfox/internal/model"
	"github.com/haskel/dermfox/internal/monitor"
	"github.com/haskel/dermfox/internal/retrain"
	"github.com/haskel/dermfox/internal/server/middleware"
	"github.com/haskel/dermfox/internal/staging"
)

// Deps are the components the API serves. History, Monitor, Guard and
// Metrics may be nil.
type Deps struct {
	Holder    *model.Holder
	Inference *inference.Service
	Intake    *intake.Service
	Scheduler *retrain.Scheduler
	Area      *staging.Area
	History   *history.Store
	Monitor   *monitor.Aggregator
	Guard     *monitor.Guard
	Metrics   *metrics.Metrics
}

type Server struct {
	httpServer *http.Server
	deps       Deps
	config     atomic.Pointer[config.Config]
	logger     *slog.Logger
	version    string
	authConfig *middleware.AuthConfig
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger, version string) *Server {
	authConfig := &middleware.AuthConfig{
		Enabled:  cfg.Auth.Enabled,
		User:     cfg.Auth.User,
		Password: cfg.Auth.Password,
	}

	s := &Server{
		deps:       deps,
		logger:     logger,
		version:    version,
		authConfig: authConfig,
	}

	s.config.Store(cfg)

	mux := s.setupRoutes()

	rl := cfg.Server.RateLimit
	limiter := middleware.RateLimit(&middleware.RateLimitConfig{
		Enabled:           rl.Enabled && !rl.PerIP,
		RequestsPerSecond: rl.RequestsPerSecond,
		Burst:             rl.Burst,
	})
	if rl.PerIP {
		limiter = middleware.PerIPRateLimit(&middleware.PerIPRateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		})
	}

	handler := middleware.Chain(
		mux,
		middleware.Recovery(logger),
		middleware.Metrics(deps.Metrics),
		middleware.Logging(logger, "/health", "/ready", "/metrics"),
		middleware.SecurityHeaders(),
		middleware.CORS(&middleware.CORSConfig{
			Enabled:        cfg.Server.CORS.Enabled,
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		}),
		limiter,
		middleware.MaxBody(cfg.MaxUploadBytes()),
		middleware.Auth(authConfig, "/health", "/ready", "/debug/*"),
	)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// ReloadConfig applies the settings that can change at runtime: auth,
// retrain threshold and resource guard limits. Listener, paths and the
// middleware stack need a restart.
func (s *Server) ReloadConfig(cfg *config.Config) {
	s.logger.Info("reloading configuration")

	s.authConfig.Update(cfg.Auth.Enabled, cfg.Auth.User, cfg.Auth.Password)

	if s.deps.Scheduler != nil {
		s.deps.Scheduler.SetThreshold(cfg.Retrain.Threshold)
	}
	if s.deps.Guard != nil {
		s.deps.Guard.SetLimits(cfg.MinFreeDiskBytes(), cfg.Guards.MaxMemoryPercent)
	}

	s.config.Store(cfg)

	s.logger.Info("configuration reloaded",
		"auth_enabled", cfg.Auth.Enabled,
		"retrain_threshold", cfg.Retrain.Threshold,
		"min_free_disk_mb", cfg.Guards.MinFreeDiskMB,
		"max_memory_percent", cfg.Guards.MaxMemoryPercent,
	)
}

func (s *Server) Start() error {
	s.logger.Info("server starting",
		"addr", s.httpServer.Addr,
	)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) cfg() *config.Config {
	return s.config.Load()
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
