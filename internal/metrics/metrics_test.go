package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewWithRegistry(reg)

	rec.RecordDecision("1m", "partial")
	rec.RecordDecision("1m", "partial")
	rec.RecordProviderRequest("binance", "bars")
	rec.RecordProviderError("binance")
	rec.RecordRowsMerged("bars", 1000)
	rec.RecordFetchDuration("bars", 0.25)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.coverageDecisions.WithLabelValues("1m", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.providerRequests.WithLabelValues("binance", "bars")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.providerErrors.WithLabelValues("binance")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(rec.rowsMerged.WithLabelValues("bars")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestFreshRegistriesDoNotCollide(t *testing.T) {
	require.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}
