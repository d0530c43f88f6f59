// Package metrics exports cluster-coordination gauges and counters through
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eleven-am/ferry/internal/domain"
)

type Prometheus struct {
	splitBrain      prometheus.Gauge
	healthStatus    *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	forwardAttempts *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		splitBrain: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "litefs_split_brain_detected",
			Help: "1 when two or more nodes claim leadership, 0 otherwise.",
		}),
		healthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "litefs_node_health_status",
			Help: "1 for the node's current health state, 0 for the others.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "litefs_failover_transitions_total",
			Help: "Failover state-machine events by kind.",
		}, []string{"kind"}),
		forwardAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "litefs_forward_attempts_total",
			Help: "Write-forwarding attempts by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.splitBrain, m.healthStatus, m.transitions, m.forwardAttempts)
	}
	return m
}

func (m *Prometheus) SetSplitBrainDetected(detected bool) {
	if detected {
		m.splitBrain.Set(1)
	} else {
		m.splitBrain.Set(0)
	}
}

func (m *Prometheus) SetHealthStatus(state domain.HealthState) {
	for _, s := range []domain.HealthState{domain.HealthHealthy, domain.HealthDegraded, domain.HealthUnhealthy} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.healthStatus.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Prometheus) ObserveFailoverTransition(kind domain.FailoverEventKind) {
	m.transitions.WithLabelValues(string(kind)).Inc()
}

func (m *Prometheus) ObserveForwardAttempt(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.forwardAttempts.WithLabelValues(outcome).Inc()
}
