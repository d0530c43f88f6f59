package core

import (
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/ferry/internal/domain"
	"github.com/eleven-am/ferry/internal/ports"
)

// SplitBrainDetector observes the cluster for concurrent leadership claims.
// It reports; it never heals. In static mode (no raft backend wired) every
// check is a no-op: a statically assigned cluster has no second leader to
// compare against.
type SplitBrainDetector struct {
	election ports.RaftLeaderElection
	nodeID   string
	emitter  ports.EventEmitter
	metrics  ports.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	detectedOnce  bool
	lastLeaderCnt int
}

func NewSplitBrainDetector(election ports.RaftLeaderElection, nodeID string, emitter ports.EventEmitter, metrics ports.Metrics, logger *slog.Logger) *SplitBrainDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = ports.NoopEmitter{}
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &SplitBrainDetector{
		election: election,
		nodeID:   nodeID,
		emitter:  emitter,
		metrics:  metrics,
		logger:   logger.With("component", "split-brain-detector"),
		now:      time.Now,
	}
}

// Check takes a cluster snapshot and returns a detection event when two or
// more nodes claim leadership, nil otherwise. Snapshot errors are returned
// to the caller, which decides between fail-open (middleware) and
// fail-closed (write guard).
func (d *SplitBrainDetector) Check() (*domain.SplitBrainDetectedEvent, error) {
	if d.election == nil {
		return nil, nil
	}

	state, err := d.election.ClusterState()
	if err != nil {
		return nil, err
	}

	leaders := state.LeadersDetected()

	d.mu.Lock()
	d.lastLeaderCnt = len(leaders)
	if len(leaders) < 2 {
		d.mu.Unlock()
		d.metrics.SetSplitBrainDetected(false)
		if len(leaders) == 0 {
			d.logger.Warn("cluster is leaderless")
		}
		return nil, nil
	}
	d.detectedOnce = true
	d.mu.Unlock()

	event, err := domain.NewSplitBrainDetectedEvent(d.now(), state, d.nodeID)
	if err != nil {
		// The local node is not in the snapshot; report with the first
		// conflicting leader as the observer rather than dropping the
		// detection.
		event, err = domain.NewSplitBrainDetectedEvent(d.now(), state, leaders[0])
		if err != nil {
			return nil, err
		}
	}

	d.metrics.SetSplitBrainDetected(true)
	d.logger.Error("split-brain detected",
		"leader_count", len(event.ConflictingLeaders),
		"leaders", event.ConflictingLeaders,
	)
	d.emitter.Emit(event)
	return &event, nil
}

// HasResolved reports whether a past detection has been followed by a
// snapshot with at most one leader.
func (d *SplitBrainDetector) HasResolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detectedOnce && d.lastLeaderCnt <= 1
}
