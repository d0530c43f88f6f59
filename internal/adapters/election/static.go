// Package election provides the leader-election backends: static hostname
// assignment and raft consensus.
package election

import (
	"os"

	"github.com/eleven-am/ferry/internal/domain"
)

// Static elects the node whose hostname byte-exactly matches the configured
// primary hostname. No case folding, no FQDN normalization: any mismatch
// means replica.
type Static struct {
	primaryHostname string
	localHostname   string
}

func NewStatic(primaryHostname, localHostname string) *Static {
	return &Static{primaryHostname: primaryHostname, localHostname: localHostname}
}

func (s *Static) IsLeaderElected() (bool, error) {
	return s.localHostname == s.primaryHostname, nil
}

// ElectAsLeader is a no-op: static assignment cannot change at runtime.
func (s *Static) ElectAsLeader() error {
	return nil
}

// DemoteFromLeader is a no-op: static assignment cannot change at runtime.
func (s *Static) DemoteFromLeader() error {
	return nil
}

// nodeIDEnvHint is the only environment variable the core consults
// directly; it overrides hostname-based node identity.
const nodeIDEnvHint = "LITEFS_NODE_ID"

// HostnameNodeIDResolver resolves node identity from the environment hint
// or the OS hostname.
type HostnameNodeIDResolver struct{}

func (HostnameNodeIDResolver) ResolveNodeID() (string, error) {
	if id := os.Getenv(nodeIDEnvHint); id != "" {
		return id, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", domain.NewConfigError("node_id", "cannot resolve node identity: %v", err)
	}
	if hostname == "" {
		return "", domain.NewConfigError("node_id", "resolved hostname is empty")
	}
	return hostname, nil
}
