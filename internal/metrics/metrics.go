// Package metrics exposes Prometheus counters for the acquisition pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the pipeline's Prometheus instruments.
type Recorder struct {
	coverageDecisions *prometheus.CounterVec
	providerRequests  *prometheus.CounterVec
	providerErrors    *prometheus.CounterVec
	rowsMerged        *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
}

// New creates a Recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Recorder on a caller-supplied registry. Tests
// use a fresh registry per recorder to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		coverageDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_coverage_decisions_total",
				Help: "Coverage classifications by timeframe and outcome",
			},
			[]string{"timeframe", "decision"},
		),
		providerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_provider_requests_total",
				Help: "Upstream range fetches by provider and data kind",
			},
			[]string{"provider", "kind"},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_provider_errors_total",
				Help: "Upstream fetches that failed after retries",
			},
			[]string{"provider"},
		),
		rowsMerged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_rows_merged_total",
				Help: "Rows written into storage by data kind",
			},
			[]string{"kind"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketdata_fetch_duration_seconds",
				Help:    "End to end duration of fetch operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordDecision records one coverage classification.
func (r *Recorder) RecordDecision(timeframe, decision string) {
	r.coverageDecisions.WithLabelValues(timeframe, decision).Inc()
}

// RecordProviderRequest records one upstream range fetch.
func (r *Recorder) RecordProviderRequest(provider, kind string) {
	r.providerRequests.WithLabelValues(provider, kind).Inc()
}

// RecordProviderError records an upstream fetch that failed permanently.
func (r *Recorder) RecordProviderError(provider string) {
	r.providerErrors.WithLabelValues(provider).Inc()
}

// RecordRowsMerged records rows written into storage.
func (r *Recorder) RecordRowsMerged(kind string, n int) {
	r.rowsMerged.WithLabelValues(kind).Add(float64(n))
}

// RecordFetchDuration records the wall time of one fetch operation.
func (r *Recorder) RecordFetchDuration(operation string, seconds float64) {
	r.fetchDuration.WithLabelValues(operation).Observe(seconds)
}
