package ports

import (
	"github.com/eleven-am/ferry/internal/domain"
)

// Metrics receives operational gauges and counters. A nil-safe noop
// implementation is provided for callers that do not wire a backend.
type Metrics interface {
	SetSplitBrainDetected(detected bool)
	SetHealthStatus(state domain.HealthState)
	ObserveFailoverTransition(kind domain.FailoverEventKind)
	ObserveForwardAttempt(success bool)
}

type NoopMetrics struct{}

func (NoopMetrics) SetSplitBrainDetected(bool)                         {}
func (NoopMetrics) SetHealthStatus(domain.HealthState)                 {}
func (NoopMetrics) ObserveFailoverTransition(domain.FailoverEventKind) {}
func (NoopMetrics) ObserveForwardAttempt(bool)                         {}
