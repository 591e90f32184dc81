package writer

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the optional instrumentation a Writer reports drop and drain
// activity to. A Writer constructed with a nil Metrics uses no-op
// collectors that are never registered, so instrumentation is opt-in and
// embedders that don't care about metrics pay nothing for it.
type Metrics struct {
	QueueBytes       prometheus.Gauge
	DroppedTotal     prometheus.Counter
	DrainErrorsTotal prometheus.Counter
}

// NewMetrics builds a Metrics struct registered against reg, with the
// given label identifying which destination the writer drains to.
func NewMetrics(reg prometheus.Registerer, destination string) *Metrics {
	m := &Metrics{
		QueueBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "collector",
			Subsystem:   "writer",
			Name:        "queue_bytes",
			Help:        "Unflushed bytes currently queued in the data lane.",
			ConstLabels: prometheus.Labels{"destination": destination},
		}),
		DroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "collector",
			Subsystem:   "writer",
			Name:        "dropped_bytes_total",
			Help:        "Total bytes dropped by the data-lane overflow policy.",
			ConstLabels: prometheus.Labels{"destination": destination},
		}),
		DrainErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "collector",
			Subsystem:   "writer",
			Name:        "drain_errors_total",
			Help:        "Total permanent write failures against the sink.",
			ConstLabels: prometheus.Labels{"destination": destination},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.QueueBytes, m.DroppedTotal, m.DrainErrorsTotal)
	}
	return m
}

// noopMetrics returns unregistered collectors for writers built without
// an explicit Metrics instance.
func noopMetrics() *Metrics {
	return &Metrics{
		QueueBytes:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "noop_queue_bytes"}),
		DroppedTotal:     prometheus.NewCounter(prometheus.CounterOpts{Name: "noop_dropped_total"}),
		DrainErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "noop_drain_errors_total"}),
	}
}
