// Package core composes role resolution, split-brain detection, failover
// coordination, and write-path guarding.
package core

import (
	"log/slog"

	"github.com/eleven-am/ferry/internal/domain"
	"github.com/eleven-am/ferry/internal/ports"
)

// RoleResolver presents a uniform primary/replica query over static and
// raft election backends. An unreachable backend yields "unknown", which
// callers treat as replica: refusing writes is always safe.
type RoleResolver struct {
	election ports.LeaderElection
	observer ports.MountObserver
	logger   *slog.Logger
}

func NewRoleResolver(election ports.LeaderElection, observer ports.MountObserver, logger *slog.Logger) *RoleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleResolver{
		election: election,
		observer: observer,
		logger:   logger.With("component", "role-resolver"),
	}
}

func (r *RoleResolver) IsPrimary() bool {
	elected, err := r.election.IsLeaderElected()
	if err != nil {
		r.logger.Warn("election backend unreachable, assuming replica", "error", err)
		return false
	}
	return elected
}

func (r *RoleResolver) Role() domain.Role {
	if r.IsPrimary() {
		return domain.RolePrimary
	}
	return domain.RoleReplica
}

// PrimaryURL returns the remote primary's address from the marker file.
// ok is false when the marker is absent (no primary elected) or empty
// (this node is the primary).
func (r *RoleResolver) PrimaryURL() (string, bool) {
	if r.observer == nil {
		return "", false
	}
	marker, err := r.observer.ReadPrimaryMarker()
	if err != nil {
		r.logger.Warn("cannot read primary marker", "error", err)
		return "", false
	}
	return marker.PrimaryAddr()
}
