package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	cacheTotal      *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	refreshLatency  prometheus.Histogram
	refreshSymbols  *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on /metrics.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		upstreamTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capitaldash_upstream_requests_total",
				Help: "Upstream provider calls by outcome",
			},
			[]string{"provider", "outcome"},
		),
		upstreamLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capitaldash_upstream_duration_seconds",
				Help:    "Duration of upstream provider calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		cacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capitaldash_cache_lookups_total",
				Help: "TTL cache lookups by result (hit, miss, stale)",
			},
			[]string{"result"},
		),
		refreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capitaldash_refresh_runs_total",
				Help: "Scheduled refresh runs by outcome",
			},
			[]string{"outcome"},
		),
		refreshLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "capitaldash_refresh_duration_seconds",
				Help:    "Duration of refresh runs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		refreshSymbols: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capitaldash_refresh_symbols_total",
				Help: "Per-symbol refresh results",
			},
			[]string{"symbol", "result"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "capitaldash_last_close",
				Help: "Last stored close for a tracked symbol",
			},
			[]string{"symbol"},
		),
	}
}

func (r *Recorder) RecordUpstream(provider, outcome string, seconds float64) {
	r.upstreamTotal.WithLabelValues(provider, outcome).Inc()
	r.upstreamLatency.WithLabelValues(provider).Observe(seconds)
}

func (r *Recorder) RecordCache(result string) {
	r.cacheTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordRefresh(outcome string, seconds float64) {
	r.refreshTotal.WithLabelValues(outcome).Inc()
	r.refreshLatency.Observe(seconds)
}

func (r *Recorder) RecordRefreshSymbol(symbol string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.refreshSymbols.WithLabelValues(symbol, result).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) RecordUpstream(string, string, float64) {}
func (Nop) RecordCache(string)                     {}
func (Nop) RecordRefresh(string, float64)          {}
func (Nop) RecordRefreshSymbol(string, bool)       {}
func (Nop) RecordLastPrice(string, float64)        {}
