package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("scan").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "error")))
	require.Positive(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("scan")))

	m.SetOverBudget(3)
	require.Equal(t, 3.0, testutil.ToFloat64(m.overBudget))
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("scan").End(nil))
	m.SetOverBudget(1)
}
