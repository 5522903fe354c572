// Package metrics defines the Prometheus collectors shared by the four
// governance subsystems. Instances are constructed by bootstrap and
// injected; there is no package-level default.
package metrics

import (
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/security-governance-core/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Ledger metrics
	LedgerAppendsTotal   *prometheus.CounterVec
	LedgerAppendDuration *prometheus.HistogramVec

	// RBAC metrics
	RBACDecisionsTotal *prometheus.CounterVec

	// MFA metrics
	MFAChallengesTotal *prometheus.CounterVec

	// Compliance metrics
	ComplianceDecisionsTotal *prometheus.CounterVec

	// Job orchestrator metrics
	JobRunsTotal    *prometheus.CounterVec
	JobRunDuration  *prometheus.HistogramVec

	// Event bus metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventHandlerErrors   *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Ledger metrics
		LedgerAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_appends_total",
				Help: "Total number of audit ledger append operations",
			},
			[]string{"service", "entity_type", "status"},
		),
		LedgerAppendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_append_duration_seconds",
				Help:    "Audit ledger append duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "entity_type"},
		),

		// RBAC metrics
		RBACDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbac_decisions_total",
				Help: "Total number of RBAC permission evaluations",
			},
			[]string{"service", "effect", "cache"},
		),

		// MFA metrics
		MFAChallengesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mfa_challenges_total",
				Help: "Total number of adaptive MFA challenges issued",
			},
			[]string{"service", "method", "outcome"},
		),

		// Compliance metrics
		ComplianceDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compliance_decisions_total",
				Help: "Total number of compliance orchestrator decisions",
			},
			[]string{"service", "effect"},
		),

		// Job orchestrator metrics
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "job_runs_total",
				Help: "Total number of background job runs",
			},
			[]string{"service", "job", "status"},
		),
		JobRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "job_run_duration_seconds",
				Help:    "Background job run duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"service", "job"},
		),

		// Event bus metrics
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Total number of events published on the internal event bus",
			},
			[]string{"service", "event_type"},
		),
		EventHandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_handler_errors_total",
				Help: "Total number of event subscriber handler errors",
			},
			[]string{"service", "event_type"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"service", "tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"service", "tier"},
		),

		// Database metrics
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.LedgerAppendsTotal,
			m.LedgerAppendDuration,
			m.RBACDecisionsTotal,
			m.MFAChallengesTotal,
			m.ComplianceDecisionsTotal,
			m.JobRunsTotal,
			m.JobRunDuration,
			m.EventsPublishedTotal,
			m.EventHandlerErrors,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordLedgerAppend records an audit ledger append.
func (m *Metrics) RecordLedgerAppend(service, entityType, status string, duration time.Duration) {
	m.LedgerAppendsTotal.WithLabelValues(service, entityType, status).Inc()
	m.LedgerAppendDuration.WithLabelValues(service, entityType).Observe(duration.Seconds())
}

// RecordRBACDecision records an RBAC permission evaluation outcome.
func (m *Metrics) RecordRBACDecision(service, effect, cacheResult string) {
	m.RBACDecisionsTotal.WithLabelValues(service, effect, cacheResult).Inc()
}

// RecordMFAChallenge records an adaptive MFA challenge outcome.
func (m *Metrics) RecordMFAChallenge(service, method, outcome string) {
	m.MFAChallengesTotal.WithLabelValues(service, method, outcome).Inc()
}

// RecordComplianceDecision records a compliance orchestrator decision.
func (m *Metrics) RecordComplianceDecision(service, effect string) {
	m.ComplianceDecisionsTotal.WithLabelValues(service, effect).Inc()
}

// RecordJobRun records a background job run.
func (m *Metrics) RecordJobRun(service, job, status string, duration time.Duration) {
	m.JobRunsTotal.WithLabelValues(service, job, status).Inc()
	m.JobRunDuration.WithLabelValues(service, job).Observe(duration.Seconds())
}

// RecordEventPublished records an event bus publish.
func (m *Metrics) RecordEventPublished(service, eventType string) {
	m.EventsPublishedTotal.WithLabelValues(service, eventType).Inc()
}

// RecordEventHandlerError records a subscriber handler error.
func (m *Metrics) RecordEventHandlerError(service, eventType string) {
	m.EventHandlerErrors.WithLabelValues(service, eventType).Inc()
}

// RecordCacheHit records a cache tier hit.
func (m *Metrics) RecordCacheHit(service, tier string) {
	m.CacheHitsTotal.WithLabelValues(service, tier).Inc()
}

// RecordCacheMiss records a cache tier miss.
func (m *Metrics) RecordCacheMiss(service, tier string) {
	m.CacheMissesTotal.WithLabelValues(service, tier).Inc()
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
