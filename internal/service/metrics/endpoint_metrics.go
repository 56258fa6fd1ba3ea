// Package metrics holds per-endpoint collectors for the dashboard API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Endpoints tracks latency and failures of each dashboard operation. A nil
// *Endpoints records nothing.
type Endpoints struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
}

func NewEndpoints(reg prometheus.Registerer) *Endpoints {
	f := promauto.With(reg)
	return &Endpoints{
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "capitaldash",
				Subsystem: "endpoint",
				Name:      "latency_seconds",
				Help:      "Latency of dashboard operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "capitaldash",
				Subsystem: "endpoint",
				Name:      "errors_total",
				Help:      "Errors by dashboard operation and code",
			},
			[]string{"endpoint", "code"},
		),
	}
}

// Observe records one call started at start. code is empty on success.
func (m *Endpoints) Observe(endpoint string, start time.Time, code string) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if code != "" {
		m.errors.WithLabelValues(endpoint, code).Inc()
	}
}
