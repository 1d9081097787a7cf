package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProvisioningMetrics records outcomes of provisioning runs driven by the
// saga worker.
type ProvisioningMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	stages   *prometheus.CounterVec
	breaker  *prometheus.CounterVec
}

// NewProvisioningMetrics registers the provisioning metrics on the provided registerer.
func NewProvisioningMetrics(reg prometheus.Registerer) *ProvisioningMetrics {
	if reg == nil {
		return &ProvisioningMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provisioning_duration_seconds",
		Help:    "End-to-end duration of provisioning runs in seconds.",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
	}, []string{"outcome"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_outcomes_total",
		Help: "Provisioning runs by terminal outcome.",
	}, []string{"outcome"})
	stages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_stage_events_total",
		Help: "Progress checkpoints reported by the hypervisor.",
	}, []string{"stage"})
	breaker := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hypervisor_breaker_transitions_total",
		Help: "Circuit breaker state transitions for the hypervisor client.",
	}, []string{"state"})
	reg.MustRegister(duration, outcomes, stages, breaker)
	return &ProvisioningMetrics{
		duration: duration,
		outcomes: outcomes,
		stages:   stages,
		breaker:  breaker,
	}
}

// ObserveRun records a finished provisioning run.
func (p *ProvisioningMetrics) ObserveRun(outcome string, duration time.Duration) {
	if p == nil || p.duration == nil {
		return
	}
	label := normalizeLabel(outcome)
	p.duration.WithLabelValues(label).Observe(duration.Seconds())
	p.outcomes.WithLabelValues(label).Inc()
}

// IncStage counts one reported progress checkpoint.
func (p *ProvisioningMetrics) IncStage(stage string) {
	if p == nil || p.stages == nil {
		return
	}
	p.stages.WithLabelValues(normalizeLabel(stage)).Inc()
}

// IncBreakerTransition counts a circuit breaker state change.
func (p *ProvisioningMetrics) IncBreakerTransition(state string) {
	if p == nil || p.breaker == nil {
		return
	}
	p.breaker.WithLabelValues(normalizeLabel(state)).Inc()
}
