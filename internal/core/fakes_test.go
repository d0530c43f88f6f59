package core

import (
	"errors"
	"sync"
	"time"

	"github.com/eleven-am/ferry/internal/domain"
)

type fakeElection struct {
	mu       sync.Mutex
	elected  bool
	quorum   bool
	cluster  domain.ClusterState
	electErr error
	stateErr error
	demoted  int
}

func (f *fakeElection) IsLeaderElected() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.electErr != nil {
		return false, f.electErr
	}
	return f.elected, nil
}

func (f *fakeElection) ElectAsLeader() error { return nil }

func (f *fakeElection) DemoteFromLeader() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.demoted++
	f.elected = false
	return nil
}

func (f *fakeElection) IsQuorumReached() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quorum, nil
}

func (f *fakeElection) ClusterMembers() ([]string, error) {
	state, err := f.ClusterState()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range state.Members() {
		ids = append(ids, m.NodeID)
	}
	return ids, nil
}

func (f *fakeElection) ClusterState() (domain.ClusterState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return domain.ClusterState{}, f.stateErr
	}
	return f.cluster, nil
}

func (f *fakeElection) DetectSplitBrain() (bool, error) {
	state, err := f.ClusterState()
	if err != nil {
		return false, err
	}
	return state.HasSplitBrain(), nil
}

func (f *fakeElection) ElectionTimeout() time.Duration { return time.Second }

func (f *fakeElection) setCluster(leaders []string, followers []string) {
	var members []domain.NodeState
	for _, id := range leaders {
		n, _ := domain.NewNodeState(id, true, 1, nil)
		members = append(members, n)
	}
	hb := time.Now()
	for _, id := range followers {
		n, _ := domain.NewNodeState(id, false, 1, &hb)
		members = append(members, n)
	}
	state, err := domain.NewClusterState(members, len(members)/2+1)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.cluster = state
	f.mu.Unlock()
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []interface{}
}

func (r *recordingEmitter) Emit(event interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) failoverKinds() []domain.FailoverEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []domain.FailoverEventKind
	for _, e := range r.events {
		if fe, ok := e.(domain.FailoverEvent); ok {
			kinds = append(kinds, fe.Kind)
		}
	}
	return kinds
}

type staticChecker struct {
	primary bool
}

func (s staticChecker) IsPrimary() bool { return s.primary }

type fakeDetector struct {
	event *domain.SplitBrainDetectedEvent
	err   error
}

func (f *fakeDetector) Check() (*domain.SplitBrainDetectedEvent, error) {
	return f.event, f.err
}

func (f *fakeDetector) HasResolved() bool { return f.event == nil }

func splitBrainEvent(leaders ...string) *domain.SplitBrainDetectedEvent {
	var members []domain.NodeState
	for _, id := range leaders {
		n, _ := domain.NewNodeState(id, true, 1, nil)
		members = append(members, n)
	}
	state, err := domain.NewClusterState(members, 1)
	if err != nil {
		panic(err)
	}
	event, err := domain.NewSplitBrainDetectedEvent(time.Now(), state, leaders[0])
	if err != nil {
		panic(err)
	}
	return &event
}

var errBackendDown = errors.New("election backend down")
