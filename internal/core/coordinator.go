package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/ferry/internal/domain"
	"github.com/eleven-am/ferry/internal/ports"
)

const defaultHandoffDrainTimeout = 10 * time.Second

// WriteDrainer waits for in-flight writes to complete during a graceful
// handoff.
type WriteDrainer interface {
	Drain(ctx context.Context) error
}

// FailoverCoordinator owns the node's role. Transitions happen only inside
// CoordinateTransition and GracefulHandoff, guarded by election outcome,
// node health, and cluster quorum. Every observable transition emits
// exactly one event; idempotent ticks emit nothing, and blocked promotions
// emit promotion_blocked without transitioning.
//
// The role mutex is never held across a port call that may block: election
// and quorum are read first, then the transition is evaluated and its event
// emitted while the mutex is held so observers see a consistent ordering.
type FailoverCoordinator struct {
	election   ports.LeaderElection
	raft       ports.RaftLeaderElection // nil in static mode
	resolution ports.ConflictResolution // optional
	emitter    ports.EventEmitter
	metrics    ports.Metrics
	drainer    WriteDrainer // optional
	logger     *slog.Logger
	now        func() time.Time

	drainTimeout time.Duration

	mu        sync.Mutex
	role      domain.Role
	degraded  bool
	unhealthy bool
}

type CoordinatorOptions struct {
	Election     ports.LeaderElection
	Raft         ports.RaftLeaderElection
	Resolution   ports.ConflictResolution
	Emitter      ports.EventEmitter
	Metrics      ports.Metrics
	Drainer      WriteDrainer
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

func NewFailoverCoordinator(opts CoordinatorOptions) *FailoverCoordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = ports.NoopEmitter{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	drainTimeout := opts.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultHandoffDrainTimeout
	}
	return &FailoverCoordinator{
		election:     opts.Election,
		raft:         opts.Raft,
		resolution:   opts.Resolution,
		emitter:      emitter,
		metrics:      metrics,
		drainer:      opts.Drainer,
		logger:       logger.With("component", "failover-coordinator"),
		now:          time.Now,
		drainTimeout: drainTimeout,
		role:         domain.RoleReplica,
	}
}

func (c *FailoverCoordinator) Role() domain.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *FailoverCoordinator) IsPrimary() bool {
	return c.Role() == domain.RolePrimary
}

// MarkHealthy clears both health flags.
func (c *FailoverCoordinator) MarkHealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = false
	c.unhealthy = false
	c.publishHealthLocked()
}

// MarkUnhealthy flags the node unhealthy; the next tick demotes a primary.
func (c *FailoverCoordinator) MarkUnhealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unhealthy = true
	c.publishHealthLocked()
}

// MarkDegraded flags reduced capability. A degraded node keeps its role;
// degradation surfaces through readiness, not through demotion.
func (c *FailoverCoordinator) MarkDegraded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = true
	c.publishHealthLocked()
}

func (c *FailoverCoordinator) publishHealthLocked() {
	c.metrics.SetHealthStatus(domain.DeriveHealth(c.degraded, c.unhealthy))
}

func (c *FailoverCoordinator) HealthState() domain.HealthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.DeriveHealth(c.degraded, c.unhealthy)
}

// CoordinateTransition evaluates the transition table once. Callers invoke
// it on a schedule; the coordinator owns no timer of its own.
func (c *FailoverCoordinator) CoordinateTransition() {
	elected, err := c.election.IsLeaderElected()
	if err != nil {
		c.logger.Warn("election backend unreachable, treating as not elected", "error", err)
		elected = false
	}

	quorum := true
	if c.raft != nil {
		quorum, err = c.raft.IsQuorumReached()
		if err != nil {
			c.logger.Warn("quorum check failed, treating as lost", "error", err)
			quorum = false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	healthy := !c.unhealthy

	switch c.role {
	case domain.RoleReplica:
		if !elected {
			return
		}
		if !healthy {
			c.emitLocked(domain.FailoverPromotionBlocked, domain.RoleReplica, domain.RoleReplica, "health")
			c.logger.Warn("promotion blocked", "reason", "health")
			return
		}
		if !quorum {
			c.emitLocked(domain.FailoverPromotionBlocked, domain.RoleReplica, domain.RoleReplica, "quorum")
			c.logger.Warn("promotion blocked", "reason", "quorum")
			return
		}
		c.role = domain.RolePrimary
		c.emitLocked(domain.FailoverPromoted, domain.RoleReplica, domain.RolePrimary, "")
		c.logger.Info("promoted to primary")

	case domain.RolePrimary:
		switch {
		case !elected:
			c.role = domain.RoleReplica
			c.emitLocked(domain.FailoverDemoted, domain.RolePrimary, domain.RoleReplica, "")
			c.logger.Info("demoted to replica")
		case !healthy:
			c.role = domain.RoleReplica
			c.emitLocked(domain.FailoverDemotedForHealth, domain.RolePrimary, domain.RoleReplica, "health")
			c.logger.Warn("demoted to replica", "reason", "health")
		case !quorum:
			c.role = domain.RoleReplica
			c.emitLocked(domain.FailoverDemotedForQuorumLoss, domain.RolePrimary, domain.RoleReplica, "quorum")
			c.logger.Warn("demoted to replica", "reason", "quorum")
		}
	}
}

// GracefulHandoff demotes a primary on operator request: announce, step
// down through the election backend, drain in-flight writes, transition.
// A failed step-down still fences and demotes.
func (c *FailoverCoordinator) GracefulHandoff(ctx context.Context) error {
	c.mu.Lock()
	if c.role != domain.RolePrimary {
		c.mu.Unlock()
		return fmt.Errorf("graceful handoff requires the primary role, current role is %s", c.role)
	}
	c.emitLocked(domain.FailoverHandoffBegin, domain.RolePrimary, domain.RolePrimary, "operator request")
	c.mu.Unlock()

	if err := c.election.DemoteFromLeader(); err != nil {
		c.logger.Error("step-down failed, fencing write access", "error", err)
		if c.resolution != nil {
			if ferr := c.resolution.FenceWriteAccess(); ferr != nil {
				c.logger.Error("fencing failed", "error", ferr)
			}
		}
	}

	if c.drainer != nil {
		drainCtx, cancel := context.WithTimeout(ctx, c.drainTimeout)
		defer cancel()
		if err := c.drainer.Drain(drainCtx); err != nil {
			c.logger.Warn("write drain incomplete, continuing handoff", "error", err)
		}
	}

	c.mu.Lock()
	c.role = domain.RoleReplica
	c.emitLocked(domain.FailoverHandoffComplete, domain.RolePrimary, domain.RoleReplica, "operator request")
	c.mu.Unlock()

	c.logger.Info("graceful handoff complete")
	return nil
}

func (c *FailoverCoordinator) emitLocked(kind domain.FailoverEventKind, from, to domain.Role, reason string) {
	c.metrics.ObserveFailoverTransition(kind)
	c.emitter.Emit(domain.FailoverEvent{
		Kind:      kind,
		FromState: from,
		ToState:   to,
		Reason:    reason,
		Timestamp: c.now(),
	})
}
