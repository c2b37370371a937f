// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the Prometheus instruments for the collaboration
// core. Instruments register against the supplied registerer, so tests
// can use isolated registries.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	delegationsTotal   *prometheus.CounterVec
	handoffsTotal      prometheus.Counter
	sessionTransitions *prometheus.CounterVec
	agentWorkload      *prometheus.GaugeVec

	contextItems  prometheus.Gauge
	sweepDuration prometheus.Histogram
	sweepRemoved  prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates the instruments under the given namespace. A nil
// registerer uses the default registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.delegationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Total number of resolved delegation requests",
		},
		[]string{"status"},
	)
	c.handoffsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of completed task handoffs",
		},
	)
	c.sessionTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of session status transitions",
		},
		[]string{"to"},
	)
	c.agentWorkload = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_workload",
			Help:      "Current workload per agent",
		},
		[]string{"agent_id"},
	)

	c.contextItems = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "context_items",
			Help:      "Number of live shared context items",
		},
	)
	c.sweepDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_sweep_duration_seconds",
			Help:      "Duration of context expiry sweeps",
			Buckets:   prometheus.DefBuckets,
		},
	)
	c.sweepRemoved = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_sweep_removed_total",
			Help:      "Total number of expired context items removed",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one API request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDelegation records a resolved delegation request.
func (c *Collector) RecordDelegation(status string) {
	c.delegationsTotal.WithLabelValues(status).Inc()
}

// RecordHandoff records a completed handoff.
func (c *Collector) RecordHandoff() {
	c.handoffsTotal.Inc()
}

// RecordSessionTransition records a session entering a new status.
func (c *Collector) RecordSessionTransition(to string) {
	c.sessionTransitions.WithLabelValues(to).Inc()
}

// SetAgentWorkload reports an agent's current workload.
func (c *Collector) SetAgentWorkload(agentID string, workload int) {
	c.agentWorkload.WithLabelValues(agentID).Set(float64(workload))
}

// SetContextItems reports the live context item count.
func (c *Collector) SetContextItems(count int64) {
	c.contextItems.Set(float64(count))
}

// RecordSweep records one expiry sweep.
func (c *Collector) RecordSweep(removed int, duration time.Duration) {
	c.sweepDuration.Observe(duration.Seconds())
	c.sweepRemoved.Add(float64(removed))
}

func statusCode(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
