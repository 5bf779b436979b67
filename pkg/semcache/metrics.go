package semcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pario-ai/simcache/pkg/models"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	captures       *prometheus.CounterVec
	captureErrors  *prometheus.CounterVec
	captureLatency *prometheus.HistogramVec
	suggestions    prometheus.Histogram
	sweptRecords   prometheus.Counter
	sweepFailures  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, collection string) (*Metrics, error) {
	labels := prometheus.Labels{"collection": collection}

	m := &Metrics{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "simcache_captures_total",
			Help:        "Completed captures by outcome (hit, miss, stale)",
			ConstLabels: labels,
		}, []string{"outcome"}),
		captureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "simcache_capture_errors_total",
			Help:        "Failed captures by stage (embed, search, produce, store)",
			ConstLabels: labels,
		}, []string{"stage"}),
		captureLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "simcache_capture_duration_seconds",
			Help:        "Capture latency including the producer on misses",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		suggestions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "simcache_suggest_results",
			Help:        "Number of suggestions returned per query",
			ConstLabels: labels,
			Buckets:     []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		sweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "simcache_swept_records_total",
			Help:        "Expired records removed by sweeps",
			ConstLabels: labels,
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "simcache_sweep_failures_total",
			Help:        "Sweeps that failed",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.captures, m.captureErrors, m.captureLatency, m.suggestions, m.sweptRecords, m.sweepFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeCapture(outcome models.CaptureOutcome, latency time.Duration) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(string(outcome)).Inc()
	m.captureLatency.WithLabelValues(string(outcome)).Observe(latency.Seconds())
}

func (m *Metrics) captureError(stage string) {
	if m == nil {
		return
	}
	m.captureErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) observeSuggest(n int) {
	if m == nil {
		return
	}
	m.suggestions.Observe(float64(n))
}

func (m *Metrics) swept(n int) {
	if m == nil {
		return
	}
	m.sweptRecords.Add(float64(n))
}

func (m *Metrics) sweepFailed() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}
