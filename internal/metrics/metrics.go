// Package metrics exposes the Prometheus metrics of Kestrel.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for validation, the worker and the API.
// Every method is safe on a nil receiver, which disables recording.
type Metrics struct {
	// Verdicts by fraud risk bucket and validity
	Validations *prometheus.CounterVec

	// Rules that raised an error and were skipped
	RuleFailures *prometheus.CounterVec

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Engine run time, excluding cache and storage
	ValidationDuration prometheus.Histogram

	// Worker messages by outcome: "processed", "alert", "error", "malformed"
	WorkerMessages *prometheus.CounterVec

	// Requests rejected by the per-tenant limiter
	RateLimited prometheus.Counter

	HTTPRequests *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_validations_total",
			Help: "Total validations by fraud risk and validity",
		}, []string{"fraud_risk", "valid"}),

		RuleFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_rule_failures_total",
			Help: "Total rule evaluations that raised an error and were skipped",
		}, []string{"rule"}),

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_cache_hits_total",
			Help: "Total validations answered from the report cache",
		}),

		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_cache_misses_total",
			Help: "Total validations that ran the rule engine",
		}),

		ValidationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_validation_duration_seconds",
			Help:    "Duration of rule engine runs",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		WorkerMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_worker_messages_total",
			Help: "Total worker messages by outcome",
		}, []string{"outcome"}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_rate_limited_total",
			Help: "Total API requests rejected by the tenant rate limiter",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_http_requests_total",
			Help: "Total HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
	}
}

// ObserveValidation records one verdict and the engine run time.
func (m *Metrics) ObserveValidation(fraudRisk string, valid bool, d time.Duration) {
	if m != nil {
		m.Validations.WithLabelValues(fraudRisk, strconv.FormatBool(valid)).Inc()
		m.ValidationDuration.Observe(d.Seconds())
	}
}

// IncrementRuleFailure records a rule that raised an error.
func (m *Metrics) IncrementRuleFailure(rule string) {
	if m != nil {
		m.RuleFailures.WithLabelValues(rule).Inc()
	}
}

// ObserveCache records a report cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// IncrementWorker records a worker message outcome.
func (m *Metrics) IncrementWorker(outcome string) {
	if m != nil {
		m.WorkerMessages.WithLabelValues(outcome).Inc()
	}
}

// IncrementRateLimited records a rejected request.
func (m *Metrics) IncrementRateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

// ObserveHTTP records a served request.
func (m *Metrics) ObserveHTTP(method, route string, status int) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	}
}
