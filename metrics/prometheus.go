// Package metrics exposes coordinator activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c0deZ3R0/go-order-kit/coordinator"
)

const namespace = "orderkit"

// PrometheusCollector implements coordinator.MetricsCollector on top of a
// Prometheus registry.
type PrometheusCollector struct {
	registry  *prometheus.Registry
	duration  *prometheus.HistogramVec
	outcomes  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	pending   prometheus.Gauge
}

var _ coordinator.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the coordinator metrics on reg. A nil reg
// gets a fresh registry.
func NewPrometheusCollector(reg *prometheus.Registry) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &PrometheusCollector{
		registry: reg,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "move_duration_seconds",
			Help:      "Time from optimistic apply until the move settled.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "move_outcomes_total",
			Help:      "Moves by final status.",
		}, []string{"op", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "move_retries_total",
			Help:      "Authority calls retried after a transient failure.",
		}, []string{"op", "attempt"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Remote conflicts by strategy and winning side.",
		}, []string{"strategy", "winner"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_moves",
			Help:      "Move records currently tracked.",
		}),
	}
	for _, c := range []prometheus.Collector{m.duration, m.outcomes, m.retries, m.conflicts, m.pending} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusCollector) RecordMoveDuration(op string, d time.Duration) {
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *PrometheusCollector) RecordMoveOutcome(op string, status coordinator.Status) {
	m.outcomes.WithLabelValues(op, string(status)).Inc()
}

func (m *PrometheusCollector) RecordRetry(op string, attempt int) {
	m.retries.WithLabelValues(op, strconv.Itoa(attempt)).Inc()
}

func (m *PrometheusCollector) RecordConflict(strategy, winner string) {
	m.conflicts.WithLabelValues(strategy, winner).Inc()
}

func (m *PrometheusCollector) RecordPending(n int) {
	m.pending.Set(float64(n))
}

// Registry returns the registry the metrics live in.
func (m *PrometheusCollector) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
