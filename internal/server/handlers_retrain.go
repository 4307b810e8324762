package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/haskel/dermfox/internal/history"
	"github.com/haskel/dermfox/internal/retrain"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

type RetrainStatusResponse struct {
	retrain.Stats
	ModelVersion int64 `json:"model_version"`
}

type RetrainResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HistoryResponse struct {
	Runs   []history.Run  `json:"runs"`
	Counts map[string]int `json:"counts"`
}

func (s *Server) handleRetrainStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, RetrainStatusResponse{
		Stats:        s.deps.Scheduler.Stats(),
		ModelVersion: s.deps.Holder.Version(),
	})
}

// handleRetrain starts a pass regardless of the staged count.
func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.ForceRetrain(); err != nil {
		if errors.Is(err, retrain.ErrRetrainInProgress) {
			s.writeJSON(w, http.StatusConflict, RetrainResponse{
				Status:  "running",
				Message: "a retraining pass is already running",
			})
			return
		}
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("retrain requested by operator", "remote", r.RemoteAddr)
	s.writeJSON(w, http.StatusAccepted, RetrainResponse{
		Status:  "started",
		Message: "retraining started",
	})
}

func (s *Server) handleRetrainCancel(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Scheduler.Cancel() {
		s.writeJSON(w, http.StatusConflict, RetrainResponse{
			Status:  "idle",
			Message: "no retraining pass is running",
		})
		return
	}

	s.writeJSON(w, http.StatusAccepted, RetrainResponse{
		Status:  "cancelling",
		Message: "cancellation requested",
	})
}

func (s *Server) handleRetrainHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeJSON(w, http.StatusOK, HistoryResponse{Runs: []history.Run{}, Counts: map[string]int{}})
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	counts, err := s.deps.History.Counts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, HistoryResponse{Runs: runs, Counts: counts})
}
