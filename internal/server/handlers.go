package server

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/model"
	"github.com/haskel/dermfox/internal/monitor"
)

//go:embed web/index.html
var webFS embed.FS

var indexTemplate = template.Must(template.ParseFS(webFS, "web/index.html"))

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Ready        bool   `json:"ready"`
	ModelVersion int64  `json:"model_version"`
	Reason       string `json:"reason,omitempty"`
}

type ClassesResponse struct {
	Classes []lesion.Info `json:"classes"`
}

type ModelResponse struct {
	model.Info
	ServerVersion string `json:"server_version"`
}

// StatusResponse reports host and process resources together with the
// guard limits currently in force.
type StatusResponse struct {
	Resources        *monitor.SystemState `json:"resources,omitempty"`
	Staged           int                  `json:"staged"`
	MinFreeDiskBytes uint64               `json:"min_free_disk_bytes"`
	MaxMemoryPercent float64              `json:"max_memory_percent"`
	Uptime           string               `json:"uptime"`
}

type indexData struct {
	Version      string
	ModelVersion int64
	Classes      []lesion.Info
	Staged       int
	Threshold    int
}

var startedAt = time.Now()

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{
		Version:      s.version,
		ModelVersion: s.deps.Holder.Version(),
		Classes:      lesion.All(),
		Staged:       s.deps.Area.Count(),
		Threshold:    s.deps.Scheduler.Threshold(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("failed to render index", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Holder.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Ready:  false,
			Reason: "model not loaded",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, ReadyResponse{
		Ready:        true,
		ModelVersion: s.deps.Holder.Version(),
	})
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ClassesResponse{Classes: lesion.All()})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ModelResponse{
		Info:          s.deps.Holder.Info(),
		ServerVersion: s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Staged: s.deps.Area.Count(),
		Uptime: time.Since(startedAt).Round(time.Second).String(),
	}
	if s.deps.Monitor != nil {
		resp.Resources = s.deps.Monitor.GetState()
	}
	if s.deps.Guard != nil {
		resp.MinFreeDiskBytes, resp.MaxMemoryPercent = s.deps.Guard.Limits()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handlePredict classifies the image in the request body.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readImage(w, r)
	if !ok {
		return
	}

	resp, err := s.deps.Inference.Predict(data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleUpload stages a labeled training image.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	classIdx := r.PathValue("class_idx")

	// reject bad labels before reading a potentially large body
	if _, err := lesion.Parse(classIdx); err != nil {
		s.writeError(w, r, err)
		return
	}

	data, ok := s.readImage(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Intake.Submit(classIdx, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}
