package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records agentrun metrics.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	runsStarted      *prometheus.CounterVec
	runsCompleted    *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	approvalsPending prometheus.Gauge
	approvalDecision *prometheus.CounterVec
	linkResolutions  *prometheus.CounterVec

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers all metrics with reg. A nil reg uses the default
// registerer; tests pass their own to avoid duplicate registration.
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

	c.runsStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of generation runs started",
		},
		[]string{"mode"}, // interactive, headless
	)
	c.runsCompleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of generation runs finished, by outcome",
		},
		[]string{"outcome"}, // done, aborted, error, suppressed
	)
	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Generation run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	c.approvalsPending = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "approvals_pending",
			Help:      "Number of tool calls currently suspended awaiting approval",
		},
	)
	c.approvalDecision = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Total approval decisions delivered, by outcome",
		},
		[]string{"outcome"}, // approved, denied, timeout, canceled
	)
	c.linkResolutions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_link_resolutions_total",
			Help:      "Total approval link resolutions, by outcome",
		},
		[]string{"outcome"}, // approved, denied, expired, unauthorized, conflict
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)
	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RunStarted implements the orchestrator's metrics hook.
func (c *Collector) RunStarted(headless bool) {
	mode := "interactive"
	if headless {
		mode = "headless"
	}
	c.runsStarted.WithLabelValues(mode).Inc()
}

// RunCompleted implements the orchestrator's metrics hook.
func (c *Collector) RunCompleted(outcome string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(outcome).Inc()
	if duration > 0 {
		c.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// SetApprovalsPending tracks the gate's pending count.
func (c *Collector) SetApprovalsPending(n int) {
	c.approvalsPending.Set(float64(n))
}

// RecordApprovalDecision records a delivered (or synthesized) decision.
func (c *Collector) RecordApprovalDecision(outcome string) {
	c.approvalDecision.WithLabelValues(outcome).Inc()
}

// RecordLinkResolution records an approval link resolution attempt.
func (c *Collector) RecordLinkResolution(outcome string) {
	c.linkResolutions.WithLabelValues(outcome).Inc()
}

// RecordDBConnections tracks connection pool usage.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
