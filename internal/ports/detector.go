package ports

import (
	"github.com/eleven-am/ferry/internal/domain"
)

// PrimaryDetector answers whether this node currently holds the primary
// role. Implementations may return a MountError when the replication
// daemon's mount is unavailable.
type PrimaryDetector interface {
	IsPrimary() (bool, error)
}

// MountObserver exposes the replication daemon's mount-point artifacts.
type MountObserver interface {
	MountExists() bool
	ReadPrimaryMarker() (domain.PrimaryMarker, error)
}

// SplitBrainDetector reports observations of concurrent leadership claims.
// Check returns nil when the cluster is healthy (or detection does not
// apply); HasResolved reports whether a previous detection has since been
// followed by a snapshot with at most one leader.
type SplitBrainDetector interface {
	Check() (*domain.SplitBrainDetectedEvent, error)
	HasResolved() bool
}
