package cache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics mirrors cache counters into Prometheus. A nil *metrics is a no-op.
type metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	computes  prometheus.Counter
	size      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, name string) (*metrics, error) {
	labels := prometheus.Labels{"cache": name}
	m := &metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "skillmatch",
			Subsystem:   "cache",
			Name:        "hits_total",
			ConstLabels: labels,
			Help:        "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "skillmatch",
			Subsystem:   "cache",
			Name:        "misses_total",
			ConstLabels: labels,
			Help:        "Total number of cache misses",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "skillmatch",
			Subsystem:   "cache",
			Name:        "evictions_total",
			ConstLabels: labels,
			Help:        "Total number of capacity evictions",
		}),
		computes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "skillmatch",
			Subsystem:   "cache",
			Name:        "computes_total",
			ConstLabels: labels,
			Help:        "Total number of single-flight computations",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "skillmatch",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: labels,
			Help:        "Current number of entries in cache",
		}),
	}

	m.hits = register(reg, m.hits)
	m.misses = register(reg, m.misses)
	m.evictions = register(reg, m.evictions)
	m.computes = register(reg, m.computes)
	m.size = register(reg, m.size)
	for _, c := range []prometheus.Collector{m.hits, m.misses, m.evictions, m.computes, m.size} {
		if c == nil {
			return nil, errors.New("cannot register cache metrics for " + name)
		}
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector that is already there.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		var zero C
		return zero
	}
	return c
}

func (m *metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *metrics) evict() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *metrics) compute() {
	if m != nil {
		m.computes.Inc()
	}
}

func (m *metrics) setSize(n int) {
	if m != nil {
		m.size.Set(float64(n))
	}
}
