package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/haskel/dermfox/internal/imaging"
	"github.com/haskel/dermfox/internal/intake"
	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/model"
	"github.com/haskel/dermfox/internal/retrain"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status,
		)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and reported as a 500 without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		imgErr   *imaging.InvalidImageError
		labelErr *lesion.InvalidLabelError
		tooLarge *http.MaxBytesError
	)

	switch {
	case errors.As(err, &imgErr), errors.As(err, &labelErr):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &tooLarge):
		s.writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, intake.ErrInsufficientStorage):
		s.logger.Warn("upload refused", "error", err)
		s.writeJSONError(w, http.StatusInsufficientStorage, intake.ErrInsufficientStorage.Error())
	case errors.Is(err, retrain.ErrRetrainInProgress):
		s.writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrNotLoaded), errors.Is(err, retrain.ErrSchedulerStopped):
		s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		s.writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// readImage returns the uploaded image bytes. The body is either the raw
// image or a multipart form with a "file" field.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body := io.Reader(r.Body)

	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, r, err)
				return nil, false
			}
			s.writeJSONError(w, http.StatusBadRequest, "multipart body needs a \"file\" field")
			return nil, false
		}
		defer file.Close()
		body = file
	}

	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, err)
			return nil, false
		}
		s.writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if len(data) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "request body is empty")
		return nil, false
	}
	return data, true
}
