package ports

import (
	"time"

	"github.com/eleven-am/ferry/internal/domain"
)

// LeaderElection is the base contract every election backend satisfies.
// Errors are treated as "unknown" by consumers: the coordinator stays (or
// becomes) REPLICA rather than guessing.
type LeaderElection interface {
	IsLeaderElected() (bool, error)
	ElectAsLeader() error
	DemoteFromLeader() error
}

// RaftLeaderElection extends the base contract with cluster-wide
// observations only a consensus backend can provide.
type RaftLeaderElection interface {
	LeaderElection

	IsQuorumReached() (bool, error)
	ClusterMembers() ([]string, error)
	ClusterState() (domain.ClusterState, error)
	DetectSplitBrain() (bool, error)
	ElectionTimeout() time.Duration
}
