package election

import (
	"io"

	"github.com/hashicorp/raft"
)

// noopFSM satisfies raft's state-machine contract. Leader election is the
// only consensus output this adapter consumes; no log entries carry
// application state.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{} {
	return nil
}

func (noopFSM) Snapshot() (raft.FSMSnapshot, error) {
	return noopSnapshot{}, nil
}

func (noopFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error {
	return sink.Close()
}

func (noopSnapshot) Release() {}
