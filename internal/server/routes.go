package server

import (
	"net/http"
	"net/http/pprof"

	"github.com/haskel/dermfox/internal/server/middleware"
)

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /classes", s.handleClasses)
	mux.HandleFunc("GET /model", s.handleModel)
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("POST /predict", s.handlePredict)
	mux.HandleFunc("POST /upload_training_image/{class_idx}", s.handleUpload)

	mux.HandleFunc("GET /retrain/status", s.handleRetrainStatus)
	mux.HandleFunc("POST /retrain", s.handleRetrain)
	mux.HandleFunc("POST /retrain/cancel", s.handleRetrainCancel)
	mux.HandleFunc("GET /retrain/history", s.handleRetrainHistory)

	if s.cfg().Metrics.Enabled && s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	s.setupDebugRoutes(mux)

	return mux
}

// setupDebugRoutes mounts pprof behind debug authentication.
func (s *Server) setupDebugRoutes(mux *http.ServeMux) {
	cfg := s.cfg()
	if !cfg.Server.Profiling.Enabled {
		return
	}

	debugAuth := middleware.DebugAuth(&middleware.DebugAuthConfig{
		Token:              cfg.Debug.Auth.Token,
		FallbackAuthConfig: s.authConfig,
	})

	s.logger.Info("profiling endpoints enabled at /debug/pprof/ (auth required)")
	mux.Handle("GET /debug/pprof/{$}", debugAuth(http.HandlerFunc(pprof.Index)))
	mux.Handle("GET /debug/pprof/cmdline", debugAuth(http.HandlerFunc(pprof.Cmdline)))
	mux.Handle("GET /debug/pprof/profile", debugAuth(http.HandlerFunc(pprof.Profile)))
	mux.Handle("GET /debug/pprof/symbol", debugAuth(http.HandlerFunc(pprof.Symbol)))
	mux.Handle("POST /debug/pprof/symbol", debugAuth(http.HandlerFunc(pprof.Symbol)))
	mux.Handle("GET /debug/pprof/trace", debugAuth(http.HandlerFunc(pprof.Trace)))
	mux.Handle("GET /debug/pprof/{name}", debugAuth(http.HandlerFunc(pprof.Index)))
}
