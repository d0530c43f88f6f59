package election

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/eleven-am/ferry/internal/domain"
)

const (
	snapshotRetainCount = 2
	transportMaxPool    = 3
	transportTimeout    = 10 * time.Second
)

type RaftOptions struct {
	NodeID          string
	BindAddr        string
	DataDir         string
	Peers           map[string]string // nodeID -> raft addr, including self
	ElectionTimeout time.Duration
	Logger          *slog.Logger
}

// Raft adapts a hashicorp/raft node to the leader-election contract. Log
// and stable state share one Bolt store under DataDir; the cluster is
// bootstrapped from the static peer set on first start.
type Raft struct {
	r               *raft.Raft
	store           *raftboltdb.BoltStore
	transport       *raft.NetworkTransport
	nodeID          string
	electionTimeout time.Duration
	logger          *slog.Logger
}

func NewRaft(opts RaftOptions) (*Raft, error) {
	if opts.NodeID == "" || opts.BindAddr == "" || opts.DataDir == "" {
		return nil, domain.NewConfigError("raft", "node id, bind addr, and data dir are required")
	}
	if len(opts.Peers) == 0 {
		return nil, domain.NewConfigError("raft", "peer set cannot be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "raft-election", "node_id", opts.NodeID)

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir raft dir: %w", err)
	}

	store, err := raftboltdb.NewBoltStore(filepath.Join(opts.DataDir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(opts.DataDir, snapshotRetainCount, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	transport, err := raft.NewTCPTransport(opts.BindAddr, nil, transportMaxPool, transportTimeout, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("tcp transport: %w", err)
	}

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(opts.NodeID)
	cfg.Logger = hclog.New(&hclog.LoggerOptions{
		Name:  "raft",
		Level: hclog.Warn,
	})
	if opts.ElectionTimeout > 0 {
		cfg.ElectionTimeout = opts.ElectionTimeout
		if cfg.HeartbeatTimeout > opts.ElectionTimeout {
			cfg.HeartbeatTimeout = opts.ElectionTimeout
		}
	}

	r, err := raft.NewRaft(cfg, &noopFSM{}, store, store, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	hasState, err := raft.HasExistingState(store, store, snapshots)
	if err != nil {
		return nil, fmt.Errorf("check existing state: %w", err)
	}
	if !hasState {
		servers := make([]raft.Server, 0, len(opts.Peers))
		for id, addr := range opts.Peers {
			servers = append(servers, raft.Server{
				ID:      raft.ServerID(id),
				Address: raft.ServerAddress(addr),
			})
		}
		if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
			logger.Warn("cluster bootstrap skipped", "error", err)
		}
	}

	return &Raft{
		r:               r,
		store:           store,
		transport:       transport,
		nodeID:          opts.NodeID,
		electionTimeout: cfg.ElectionTimeout,
		logger:          logger,
	}, nil
}

func (a *Raft) IsLeaderElected() (bool, error) {
	return a.r.State() == raft.Leader, nil
}

// ElectAsLeader cannot force an election in raft; it succeeds only when
// consensus already elected this node.
func (a *Raft) ElectAsLeader() error {
	if a.r.State() == raft.Leader {
		return nil
	}
	return fmt.Errorf("node %s is not the elected leader", a.nodeID)
}

func (a *Raft) DemoteFromLeader() error {
	if a.r.State() != raft.Leader {
		return nil
	}
	return a.r.LeadershipTransfer().Error()
}

// IsQuorumReached verifies leadership with the quorum when leading;
// followers infer quorum from a known, heartbeating leader.
func (a *Raft) IsQuorumReached() (bool, error) {
	if a.r.State() == raft.Leader {
		return a.r.VerifyLeader().Error() == nil, nil
	}
	addr, _ := a.r.LeaderWithID()
	return addr != "", nil
}

func (a *Raft) ClusterMembers() ([]string, error) {
	future := a.r.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("cluster configuration: %w", err)
	}
	servers := future.Configuration().Servers
	ids := make([]string, 0, len(servers))
	for _, s := range servers {
		ids = append(ids, string(s.ID))
	}
	return ids, nil
}

func (a *Raft) ClusterState() (domain.ClusterState, error) {
	future := a.r.GetConfiguration()
	if err := future.Error(); err != nil {
		return domain.ClusterState{}, fmt.Errorf("cluster configuration: %w", err)
	}
	servers := future.Configuration().Servers

	_, leaderID := a.r.LeaderWithID()
	term := a.currentTerm()

	members := make([]domain.NodeState, 0, len(servers))
	for _, s := range servers {
		isLeader := s.ID == leaderID && leaderID != ""
		var heartbeat *time.Time
		if string(s.ID) == a.nodeID && !isLeader {
			if lc := a.r.LastContact(); !lc.IsZero() {
				heartbeat = &lc
			}
		}
		node, err := domain.NewNodeState(string(s.ID), isLeader, term, heartbeat)
		if err != nil {
			return domain.ClusterState{}, err
		}
		members = append(members, node)
	}

	return domain.NewClusterState(members, len(members)/2+1)
}

func (a *Raft) DetectSplitBrain() (bool, error) {
	state, err := a.ClusterState()
	if err != nil {
		return false, err
	}
	return state.HasSplitBrain(), nil
}

func (a *Raft) ElectionTimeout() time.Duration {
	return a.electionTimeout
}

func (a *Raft) currentTerm() int {
	if t, err := strconv.Atoi(a.r.Stats()["term"]); err == nil && t >= 0 {
		return t
	}
	return 0
}

// Close shuts the raft node down and releases its transport and store.
func (a *Raft) Close() error {
	if err := a.r.Shutdown().Error(); err != nil {
		return err
	}
	if err := a.transport.Close(); err != nil {
		return err
	}
	return a.store.Close()
}
