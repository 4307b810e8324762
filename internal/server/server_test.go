package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haskel/dermfox/internal/config"
	"github.com/haskel/dermfox/internal/history"
	"github.com/haskel/dermfox/internal/imaging"
	"github.com/haskel/dermfox/internal/inference"
	"github.com/haskel/dermfox/internal/intake"
	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/metrics"
	"github.com/haskel/dermfox/internal/model"
	"github.com/haskel/dermfox/internal/nn"
	"github.com/haskel/dermfox/internal/retrain"
	"github.com/haskel/dermfox/internal/staging"
	"github.com/haskel/dermfox/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gateRunner blocks each pass until release is closed.
type gateRunner struct {
	started chan struct{}
	release chan struct{}
}

func newGateRunner() *gateRunner {
	return &gateRunner{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gateRunner) Run(ctx context.Context) (*retrain.Result, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
		now := time.Now()
		return &retrain.Result{StartedAt: now, FinishedAt: now, Samples: 1}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fixture struct {
	server  *Server
	handler http.Handler
	holder  *model.Holder
	area    *staging.Area
	sched   *retrain.Scheduler
	runner  *gateRunner
	history *history.Store
	cfg     *config.Config
}

func smallArchitecture() nn.Architecture {
	return nn.Architecture{
		InputChannels: imaging.Channels,
		InputSize:     imaging.InputSize,
		Conv1Filters:  2,
		Conv2Filters:  2,
		Hidden:        4,
		Classes:       lesion.NumClasses,
	}
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Staging.Dir = filepath.Join(dir, "staging")
	cfg.Model.WeightsPath = filepath.Join(dir, "model.json")
	cfg.Retrain.Threshold = 3
	cfg.Retrain.CheckIntervalSec = 0
	if mutate != nil {
		mutate(cfg)
	}

	store := storage.NewModelStorage(cfg.Model.WeightsPath, testLogger())
	holder := model.New(store, model.Options{Architecture: smallArchitecture(), Seed: 1}, testLogger())
	if err := holder.Load(); err != nil {
		t.Fatalf("failed to load model: %v", err)
	}

	area, err := staging.Open(cfg.Staging.Dir, testLogger())
	if err != nil {
		t.Fatalf("failed to open staging: %v", err)
	}

	hist, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	m := metrics.New()
	runner := newGateRunner()
	sched := retrain.NewScheduler(runner, area, retrain.Config{
		Threshold: cfg.Retrain.Threshold,
		History:   hist,
		Metrics:   m,
		Logger:    testLogger(),
	})
	t.Cleanup(func() {
		select {
		case <-runner.release:
		default:
			close(runner.release)
		}
		sched.Stop()
	})

	inf, err := inference.New(holder, 16, m, testLogger())
	if err != nil {
		t.Fatalf("failed to create inference service: %v", err)
	}
	in := intake.New(area, sched, intake.Options{Metrics: m, Logger: testLogger()})

	srv := New(cfg, Deps{
		Holder:    holder,
		Inference: inf,
		Intake:    in,
		Scheduler: sched,
		Area:      area,
		History:   hist,
		Metrics:   m,
	}, testLogger(), "test")

	return &fixture{
		server:  srv,
		handler: srv.Handler(),
		holder:  holder,
		area:    area,
		sched:   sched,
		runner:  runner,
		history: hist,
		cfg:     cfg,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestServer_Addr(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.Host = "127.0.0.1"
		c.Server.Port = 9999
	})

	if got := f.server.Addr(); got != "127.0.0.1:9999" {
		t.Errorf("Addr = %q, want 127.0.0.1:9999", got)
	}
}

func TestServer_SecurityHeaders(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", nil)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestServer_AuthRequired(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.User = "admin"
		c.Auth.Password = "secret"
	})

	// health stays open for load balancers
	if rec := f.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}

	if rec := f.do(t, http.MethodGet, "/classes", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("/classes without credentials = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/classes", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/classes with credentials = %d, want 200", rec.Code)
	}
}

func TestServer_ReloadConfig(t *testing.T) {
	f := newFixture(t, nil)

	next := *f.cfg
	next.Retrain.Threshold = 42
	next.Auth.Enabled = true
	next.Auth.User = "ops"
	next.Auth.Password = "pw"

	f.server.ReloadConfig(&next)

	if got := f.sched.Threshold(); got != 42 {
		t.Errorf("threshold = %d, want 42", got)
	}
	if f.server.cfg() != &next {
		t.Error("expected reloaded config to be stored")
	}
	if rec := f.do(t, http.MethodGet, "/classes", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("after enabling auth, status = %d, want 401", rec.Code)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	f.do(t, http.MethodGet, "/classes", nil)
	rec := f.do(t, http.MethodGet, "/metrics", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `route="GET /classes"`) {
		t.Errorf("expected request counter labelled by route, got:\n%s", rec.Body.String())
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Metrics.Enabled = false
	})

	if rec := f.do(t, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_ProfilingRequiresToken(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.Profiling.Enabled = true
		c.Debug.Auth.Token = "debug-token"
	})

	if rec := f.do(t, http.MethodGet, "/debug/pprof/", nil); rec.Code != http.StatusForbidden {
		t.Errorf("without token status = %d, want 403", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.Header.Set("Authorization", "Bearer debug-token")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token status = %d, want 200", rec.Code)
	}
}

func TestServer_ProfilingDisabled(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(t, http.MethodGet, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_BodyTooLarge(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.MaxUploadMB = 1
	})

	body := strings.NewReader(strings.Repeat("x", 2<<20))
	rec := f.do(t, http.MethodPost, "/predict", body)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestServer_StreamedUploadTooLarge(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.MaxUploadMB = 1
	})
	if got := f.cfg.MaxUploadBytes(); got != 1<<20 {
		t.Fatalf("MaxUploadBytes = %d, want %d", got, 1<<20)
	}

	// No Content-Length, so the limit trips while the handler reads.
	body := io.MultiReader(strings.NewReader(strings.Repeat("x", 2<<20)))
	rec := f.do(t, http.MethodPost, "/upload_training_image/4", body)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if got := decode[ErrorResponse](t, rec); got.Error != "request body too large" {
		t.Errorf("error = %q", got.Error)
	}
	if f.area.Count() != 0 {
		t.Errorf("staged = %d, want 0", f.area.Count())
	}
}
