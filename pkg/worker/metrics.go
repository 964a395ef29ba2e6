package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the per-process worker counters, served by promhttp from the
// stage daemon's metrics listener.
type Metrics struct {
	successes *prometheus.CounterVec
	failures  *prometheus.CounterVec
	loadLevel *prometheus.GaugeVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lta_successes_total",
			Help: "Work items processed to completion.",
		}, []string{"component", "level", "type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lta_failures_total",
			Help: "Work items that failed or were quarantined.",
		}, []string{"component", "level", "type"}),
		loadLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lta_load_level",
			Help: "1 while the component is working on a claim, 0 while idle.",
		}, []string{"component", "level", "type"}),
	}

	registry.MustRegister(m.successes, m.failures, m.loadLevel)
	return m
}

func (m *Metrics) Success(component string) {
	m.successes.WithLabelValues(component, "processing", "work").Inc()
}

func (m *Metrics) Failure(component string) {
	m.failures.WithLabelValues(component, "processing", "work").Inc()
}

func (m *Metrics) SetBusy(component string, busy bool) {
	value := 0.0
	if busy {
		value = 1.0
	}
	m.loadLevel.WithLabelValues(component, "processing", "work").Set(value)
}
