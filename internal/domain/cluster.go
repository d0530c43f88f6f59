package domain

import (
	"sort"
	"strings"
	"time"
)

// NodeState is a single node's self-reported view of its cluster role.
// A node that believes it is the leader receives no heartbeats from itself,
// so LastHeartbeat must be nil while BelievesIsLeader is set.
type NodeState struct {
	NodeID           string     `json:"node_id"`
	BelievesIsLeader bool       `json:"believes_is_leader"`
	ElectionTerm     int        `json:"election_term"`
	LastHeartbeat    *time.Time `json:"last_heartbeat,omitempty"`
}

func NewNodeState(nodeID string, believesIsLeader bool, electionTerm int, lastHeartbeat *time.Time) (NodeState, error) {
	if nodeID == "" {
		return NodeState{}, NewConfigError("node_id", "cannot be empty")
	}
	if strings.TrimSpace(nodeID) == "" {
		return NodeState{}, NewConfigError("node_id", "cannot be whitespace-only")
	}
	if electionTerm < 0 {
		return NodeState{}, NewConfigError("election_term", "cannot be negative, got: %d", electionTerm)
	}
	if believesIsLeader && lastHeartbeat != nil {
		return NodeState{}, NewConfigError("last_heartbeat", "a node that believes it is leader receives no heartbeats")
	}
	return NodeState{
		NodeID:           nodeID,
		BelievesIsLeader: believesIsLeader,
		ElectionTerm:     electionTerm,
		LastHeartbeat:    lastHeartbeat,
	}, nil
}

// ClusterState is an immutable snapshot of every node's self-belief plus
// the quorum policy in force when the snapshot was taken.
type ClusterState struct {
	members    map[string]NodeState
	quorumSize int
}

func NewClusterState(members []NodeState, quorumSize int) (ClusterState, error) {
	if len(members) == 0 {
		return ClusterState{}, NewConfigError("members", "cannot be empty")
	}
	if quorumSize < 1 || quorumSize > len(members) {
		return ClusterState{}, NewConfigError("quorum_size", "must be in [1..%d], got: %d", len(members), quorumSize)
	}
	byID := make(map[string]NodeState, len(members))
	for _, m := range members {
		if m.NodeID == "" || strings.TrimSpace(m.NodeID) == "" {
			return ClusterState{}, NewConfigError("members", "contains a node with an empty id")
		}
		if _, dup := byID[m.NodeID]; dup {
			return ClusterState{}, NewConfigError("members", "duplicate node id: %s", m.NodeID)
		}
		byID[m.NodeID] = m
	}
	return ClusterState{members: byID, quorumSize: quorumSize}, nil
}

func (c ClusterState) QuorumSize() int {
	return c.quorumSize
}

func (c ClusterState) Size() int {
	return len(c.members)
}

func (c ClusterState) Member(nodeID string) (NodeState, bool) {
	m, ok := c.members[nodeID]
	return m, ok
}

// Members returns the snapshot's nodes sorted by id.
func (c ClusterState) Members() []NodeState {
	out := make([]NodeState, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// LeadersDetected returns the ids of every node claiming leadership,
// sorted so callers produce deterministic events and messages.
func (c ClusterState) LeadersDetected() []string {
	var ids []string
	for id, m := range c.members {
		if m.BelievesIsLeader {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c ClusterState) CountLeaders() int {
	n := 0
	for _, m := range c.members {
		if m.BelievesIsLeader {
			n++
		}
	}
	return n
}

func (c ClusterState) HasSplitBrain() bool {
	return c.CountLeaders() >= 2
}

func (c ClusterState) IsLeaderless() bool {
	return c.CountLeaders() == 0
}

func (c ClusterState) HasSingleLeader() bool {
	return c.CountLeaders() == 1
}
