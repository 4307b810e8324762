// Package inference turns raw image bytes into a class prediction.
package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/haskel/dermfox/internal/imaging"
	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/metrics"
	"github.com/haskel/dermfox/internal/model"
)

// Predictor is the published model.
type Predictor interface {
	Current() *model.Snapshot
}

// ClassProbability is one entry of the probability breakdown.
type ClassProbability struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
}

// Response is the prediction payload.
type Response struct {
	PredictedClass string             `json:"predicted_class"`
	Probability    float64            `json:"probability"`
	Probabilities  []ClassProbability `json:"probabilities,omitempty"`
	ModelVersion   int64              `json:"model_version"`
	Cached         bool               `json:"-"`
}

// Service runs predictions with a cache keyed by model version and image
// digest. Concurrent requests for the same image share one forward pass.
type Service struct {
	model   Predictor
	cache   *lru.Cache[string, Response]
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Service. cacheSize 0 disables caching.
func New(p Predictor, cacheSize int, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{model: p, metrics: m, logger: logger}
	if cacheSize > 0 {
		c, err := lru.New[string, Response](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create prediction cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// Predict classifies data. Undecodable input yields an
// *imaging.InvalidImageError.
func (s *Service) Predict(data []byte) (Response, error) {
	snap := s.model.Current()
	if snap == nil {
		return Response{}, model.ErrNotLoaded
	}

	sum := sha256.Sum256(data)
	key := strconv.FormatInt(snap.Version, 10) + ":" + hex.EncodeToString(sum[:])

	if s.cache != nil {
		if resp, ok := s.cache.Get(key); ok {
			resp.Cached = true
			s.metrics.ObservePrediction(resp.PredictedClass, true)
			return resp, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.predict(snap, data)
	})
	if err != nil {
		var imgErr *imaging.InvalidImageError
		if errors.As(err, &imgErr) {
			s.metrics.ObserveInvalidImage("predict")
		}
		return Response{}, err
	}

	resp := v.(Response)
	if s.cache != nil {
		s.cache.Add(key, resp)
	}
	s.metrics.ObservePrediction(resp.PredictedClass, false)
	return resp, nil
}

func (s *Service) predict(snap *model.Snapshot, data []byte) (Response, error) {
	tensor, _, err := imaging.Load(data)
	if err != nil {
		return Response{}, err
	}

	preds, err := snap.Predict([][]float64{tensor})
	if err != nil {
		return Response{}, err
	}
	p := preds[0]

	probs := make([]ClassProbability, len(p.Probabilities))
	for i, q := range p.Probabilities {
		probs[i] = ClassProbability{Class: lesion.Class(i).String(), Probability: q}
	}

	return Response{
		PredictedClass: p.Class.String(),
		Probability:    p.Confidence,
		Probabilities:  probs,
		ModelVersion:   snap.Version,
	}, nil
}

// CacheLen returns the number of cached predictions.
func (s *Service) CacheLen() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}
