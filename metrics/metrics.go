// Package metrics exports client activity as Prometheus metrics. Wire a
// Collector into dbc.Config via its Hook and ObserveWait methods.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the client's metric vectors.
type Collector struct {
	requests *prometheus.CounterVec
	waits    *prometheus.HistogramVec
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbc_requests_total",
				Help: "Total number of service round trips by operation and outcome",
			},
			[]string{"op", "outcome"}, // outcome: ok, error, overloaded
		),
		waits: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbc_wait_seconds",
				Help:    "Time spent waiting for a solution",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"mode", "solved"},
		),
	}
	reg.MustRegister(c.requests, c.waits)
	return c
}

// Hook matches dbc.Config.MetricsHook.
func (c *Collector) Hook(op string, success, overloaded bool) {
	outcome := "ok"
	switch {
	case overloaded:
		outcome = "overloaded"
	case !success:
		outcome = "error"
	}
	c.requests.WithLabelValues(op, outcome).Inc()
}

// ObserveWait matches dbc.Config.WaitHook.
func (c *Collector) ObserveWait(mode string, elapsed time.Duration, solved bool) {
	s := "false"
	if solved {
		s = "true"
	}
	c.waits.WithLabelValues(mode, s).Observe(elapsed.Seconds())
}
