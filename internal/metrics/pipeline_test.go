package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPipelineMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.IncClaim()
	m.IncClaim()
	m.IncOutcome("completed")
	m.IncOutcome("")
	m.ObserveAnnotation(true, 3*time.Second)
	m.IncUploadItem("success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.claims))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("unknown")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.annotation))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drained.WithLabelValues("success")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *PipelineMetrics
	assert.NotPanics(t, func() {
		m.IncClaim()
		m.IncOutcome("failed")
		m.ObserveAnnotation(false, time.Second)
		m.IncUploadItem("error")
	})
	empty := NewPipelineMetrics(nil)
	assert.NotPanics(t, func() { empty.IncClaim() })
}
