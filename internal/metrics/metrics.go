// Package metrics defines the pipeline's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Invocation outcomes
const (
	OutcomeCompleted = "completed"
	OutcomeThrottled = "throttled"
	OutcomeFailed    = "failed"
)

// Metrics groups the pipeline collectors
type Metrics struct {
	Invocations      *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	CaptionFallbacks *prometheus.CounterVec
	BoxesDrawn       prometheus.Counter
}

// New creates the collectors and registers them with reg when it is not nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hazard_invocations_total",
			Help: "Pipeline invocations by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hazard_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage"}),
		CaptionFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hazard_caption_fallbacks_total",
			Help: "Model replies replaced by the fallback assessment, by parse outcome.",
		}, []string{"outcome"}),
		BoxesDrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hazard_boxes_drawn_total",
			Help: "Bounding boxes drawn on annotated images.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Invocations, m.StageDuration, m.CaptionFallbacks, m.BoxesDrawn)
	}
	return m
}

// ObserveStage records the time since start for stage
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
