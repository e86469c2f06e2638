package external

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// aggMetrics counts source calls by outcome. A nil *aggMetrics is a no-op.
type aggMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newAggMetrics(reg prometheus.Registerer) *aggMetrics {
	if reg == nil {
		return nil
	}
	m := &aggMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skillmatch",
			Subsystem: "external",
			Name:      "requests_total",
			Help:      "External source lookups by source and outcome",
		}, []string{"source", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "skillmatch",
			Subsystem: "external",
			Name:      "request_duration_seconds",
			Help:      "External source lookup latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
	}
	if err := reg.Register(m.requests); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			m.requests = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := reg.Register(m.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return m
}

func (m *aggMetrics) observe(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(source, outcome).Inc()
	m.duration.WithLabelValues(source).Observe(d.Seconds())
}
