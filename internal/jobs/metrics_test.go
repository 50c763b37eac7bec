package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("rehab:reconcile").End(nil))
	boom := errors.New("boom")
	assert.Equal(t, boom, m.Track("rehab:reconcile").End(boom))
	m.Skip("rehab:reconcile")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("rehab:reconcile", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("rehab:reconcile", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("rehab:reconcile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("rehab:reconcile")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	err := errors.New("boom")
	assert.Equal(t, err, m.Track("job").End(err))
	m.Skip("job")
}
