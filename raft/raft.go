// Package raft names the log a Group0 guard proposes committed batches
// through once its lease is held. The batches themselves - the tablet
// catalog's committed mutations - are opaque to this package; it only
// describes the node interface group0 needs, not a log implementation.
// Standing up a real multi-node raft log (storage, transport, the
// etcd/raft Ready-handling loop) is out of scope for this repo, same as
// the rest of the group0 topology log; see tablets/topology's package
// doc.
package raft

import (
	"context"

	"github.com/coreos/etcd/raft"
	"github.com/coreos/etcd/raft/raftpb"
)

// RaftID names one raft group, e.g. the group0 log a cluster's
// coordinators propose batches through.
type RaftID string

// etc'd raft implementation allows progress on the state machine
// even when ready handlers are blocked. RawNode is mutated by
// a single goroutine. In our implementation we may need to use
// mutexes or something of that sort to ensure mutual exclusion
type Raft interface {
	ID() RaftID
	Tick()
	Propose(ctx context.Context, data []byte) error
	ProposeConfChange(ctx context.Context, cc raftpb.ConfChange) error
	Step(ctx context.Context, msg raftpb.Message) error
	Advance()
	ApplyConfChange(cc raftpb.ConfChange) *raftpb.ConfState
	HasReady() bool
	Ready() raft.Ready
}
