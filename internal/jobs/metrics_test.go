package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("reports:warmup").End(nil))
	boom := errors.New("boom")
	assert.Same(t, boom, m.Track("reports:warmup").End(boom))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("reports:warmup", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("reports:warmup", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("reports:warmup")))
}

func TestAddWarmedIgnoresEmpty(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddWarmed("this_month", 0)
	m.AddWarmed("this_month", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.warmed.WithLabelValues("this_month")))
}

func TestNilMetricsTrackerPassesError(t *testing.T) {
	var m *Metrics
	err := errors.New("x")
	assert.Same(t, err, m.Track("job").End(err))
	m.AddWarmed("all", 3)
}
