// Package streaming describes the collaborator that copies a tablet's
// opaque on-disk bytes from one replica to another. The storage engine
// internals that produce those bytes (SSTables, compaction) are out of
// scope; the transition state machine only drives this contract's
// start/cancel callbacks between stages.
package streaming

import (
	"context"

	"github.com/google/uuid"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/token"
)

// SessionID identifies one streaming attempt. A fresh SessionID is minted
// every time the state machine (re)starts streaming, including on retry
// after ErrStreamingFailure.
type SessionID = uuid.UUID

// Range is the token range being streamed, expressed the same way a
// tablet's ownership is: exclusive lower bound, inclusive upper bound.
type Range struct {
	First token.Token
	Last  token.Token
}

// Streamer starts and cancels tablet data transfers. Start must not return
// until the transfer either completes or fails; callers that want to
// cancel do so via ctx, not by abandoning the call.
type Streamer interface {
	// Start streams the token range owned by the src replica to dst. It
	// blocks until the transfer finishes, fails, or ctx is cancelled.
	Start(ctx context.Context, session SessionID, src, dst tablets.TabletReplica, r Range) error
}

// NopStreamer is a Streamer that completes immediately, used in tests and
// as the coordinator's default when no streamer is supplied.
type NopStreamer struct{}

func (NopStreamer) Start(ctx context.Context, session SessionID, src, dst tablets.TabletReplica, r Range) error {
	return nil
}
