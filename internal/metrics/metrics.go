// Package metrics exposes Prometheus metrics for the service.
//
// All methods are safe on a nil *Metrics, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dermfox"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	predictions     *prometheus.CounterVec
	predictionCache *prometheus.CounterVec
	invalidImages   *prometheus.CounterVec

	uploads *prometheus.CounterVec

	retrainRuns     *prometheus.CounterVec
	retrainDuration prometheus.Histogram
	retrainSamples  prometheus.Counter
	retrainRunning  prometheus.Gauge
}

// New creates Metrics with Go runtime and process collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method"}),
		predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions served by predicted class.",
		}, []string{"class"}),
		predictionCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_total",
			Help:      "Prediction cache lookups by result.",
		}, []string{"result"}),
		invalidImages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_images_total",
			Help:      "Rejected image payloads by endpoint.",
		}, []string{"endpoint"}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_uploads_total",
			Help:      "Accepted training images by class.",
		}, []string{"class"}),
		retrainRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrain_runs_total",
			Help:      "Retraining passes by outcome.",
		}, []string{"status"}),
		retrainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrain_duration_seconds",
			Help:      "Duration of retraining passes.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		retrainSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrain_samples_total",
			Help:      "Samples consumed by successful retraining passes.",
		}),
		retrainRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retrain_running",
			Help:      "1 while a retraining pass is running.",
		}),
	}
}

// RegisterStateGauges exposes values read at scrape time.
func (m *Metrics) RegisterStateGauges(staged, threshold, modelVersion func() float64) {
	if m == nil {
		return
	}
	f := promauto.With(m.registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "staged_samples",
		Help:      "Samples waiting in the staging area.",
	}, staged)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retrain_threshold",
		Help:      "Staged sample count that triggers retraining.",
	}, threshold)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_version",
		Help:      "Version of the published model.",
	}, modelVersion)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObservePrediction records a served prediction.
func (m *Metrics) ObservePrediction(class string, cached bool) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(class).Inc()
	result := "miss"
	if cached {
		result = "hit"
	}
	m.predictionCache.WithLabelValues(result).Inc()
}

// ObserveInvalidImage records a rejected payload.
func (m *Metrics) ObserveInvalidImage(endpoint string) {
	if m == nil {
		return
	}
	m.invalidImages.WithLabelValues(endpoint).Inc()
}

// ObserveUpload records an accepted training image.
func (m *Metrics) ObserveUpload(class string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(class).Inc()
}

// SetRetrainRunning flips the running gauge.
func (m *Metrics) SetRetrainRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.retrainRunning.Set(1)
		return
	}
	m.retrainRunning.Set(0)
}

// ObserveRetrain records a finished pass.
func (m *Metrics) ObserveRetrain(status string, d time.Duration, samples int) {
	if m == nil {
		return
	}
	m.retrainRuns.WithLabelValues(status).Inc()
	m.retrainDuration.Observe(d.Seconds())
	if samples > 0 {
		m.retrainSamples.Add(float64(samples))
	}
}
