package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records annotation pipeline activity. A nil receiver is a
// no-op so callers never have to check.
type PipelineMetrics struct {
	claims     prometheus.Counter
	outcomes   *prometheus.CounterVec
	annotation *prometheus.HistogramVec
	drained    *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	claims := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teleops_queue_claims_total",
		Help: "Queue rows claimed by annotation workers.",
	})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teleops_videos_processed_total",
		Help: "Processed videos by outcome (completed, requeued, failed).",
	}, []string{"outcome"})
	annotation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "teleops_annotation_duration_seconds",
		Help:    "Wall time of annotation calls, including download.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"result"})
	drained := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teleops_upload_items_total",
		Help: "Device upload queue items processed by status.",
	}, []string{"status"})
	reg.MustRegister(claims, outcomes, annotation, drained)
	return &PipelineMetrics{
		claims:     claims,
		outcomes:   outcomes,
		annotation: annotation,
		drained:    drained,
	}
}

func (m *PipelineMetrics) IncClaim() {
	if m == nil || m.claims == nil {
		return
	}
	m.claims.Inc()
}

func (m *PipelineMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *PipelineMetrics) ObserveAnnotation(success bool, d time.Duration) {
	if m == nil || m.annotation == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.annotation.WithLabelValues(result).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncUploadItem(status string) {
	if m == nil || m.drained == nil {
		return
	}
	m.drained.WithLabelValues(normalizeLabel(status)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
