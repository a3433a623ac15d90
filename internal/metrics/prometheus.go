// Package metrics provides Prometheus metrics collection for the risk service
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openidx",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "openidx",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "openidx",
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)
)

// Risk evaluation metrics
var (
	// RiskEvaluationsTotal counts verdicts by purpose, status and overall risk.
	RiskEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openidx",
			Name:      "risk_evaluations_total",
			Help:      "Total number of sign attempt risk evaluations",
		},
		[]string{"purpose", "status", "risk_level"},
	)

	// RiskChecksTriggeredTotal counts individual checks that fired.
	RiskChecksTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openidx",
			Name:      "risk_checks_triggered_total",
			Help:      "Total number of security checks triggered",
		},
		[]string{"check", "risk_level"},
	)

	riskEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "openidx",
			Name:      "risk_evaluation_duration_seconds",
			Help:      "Time spent evaluating a single sign attempt",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	// RiskFailClosedTotal counts verdicts produced by the fail-closed path.
	RiskFailClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openidx",
			Name:      "risk_fail_closed_total",
			Help:      "Total number of evaluations that failed closed",
		},
		[]string{"cause"}, // cause: missing_request, invalid_request, no_threat_intel, panic
	)
)

// Threat intelligence metrics
var (
	// ThreatIntelReloadsTotal counts snapshot loads per source.
	ThreatIntelReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openidx",
			Name:      "threat_intel_reloads_total",
			Help:      "Total number of threat intelligence reloads",
		},
		[]string{"source", "outcome"}, // outcome: success, failure
	)

	// ThreatIntelEntries reports the size of the active snapshot.
	ThreatIntelEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "openidx",
			Name:      "threat_intel_entries",
			Help:      "Number of entries in the active threat intelligence snapshot",
		},
		[]string{"kind"}, // kind: suspicious_ips, malicious_ips, blocked_zones, high_risk_zones
	)

	auditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openidx",
			Name:      "risk_audit_writes_total",
			Help:      "Total number of verdict audit writes",
		},
		[]string{"sink", "outcome"},
	)
)

// Middleware returns a Gin middleware that records HTTP metrics.
// serviceName is used as the "service" label on all metrics.
func Middleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		// Skip metrics endpoint itself to avoid recursion
		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(serviceName, method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, method, path).Observe(time.Since(start).Seconds())
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// Handler returns a gin.HandlerFunc that serves Prometheus metrics.
// Register this on the "/metrics" route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordRiskEvaluation records a completed evaluation
func RecordRiskEvaluation(purpose, status, riskLevel string, duration time.Duration) {
	if purpose == "" {
		purpose = "unknown"
	}
	RiskEvaluationsTotal.WithLabelValues(purpose, status, riskLevel).Inc()
	riskEvaluationDuration.Observe(duration.Seconds())
}

// RecordRiskCheck records a triggered security check
func RecordRiskCheck(check, riskLevel string) {
	RiskChecksTriggeredTotal.WithLabelValues(check, riskLevel).Inc()
}

// RecordFailClosed records an evaluation that fell back to the fail-closed verdict
func RecordFailClosed(cause string) {
	RiskFailClosedTotal.WithLabelValues(cause).Inc()
}

// RecordThreatIntelReload records the outcome of a snapshot load
func RecordThreatIntelReload(source string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ThreatIntelReloadsTotal.WithLabelValues(source, outcome).Inc()
}

// SetThreatIntelEntries sets the number of entries of one kind in the active snapshot
func SetThreatIntelEntries(kind string, count int) {
	ThreatIntelEntries.WithLabelValues(kind).Set(float64(count))
}

// RecordAuditWrite records a verdict audit write
func RecordAuditWrite(sink string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	auditWritesTotal.WithLabelValues(sink, outcome).Inc()
}
