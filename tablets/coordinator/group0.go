package coordinator

import (
	"context"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/coreos/etcd/clientv3/concurrency"

	tabletraft "github.com/jrife/tabletcore/raft"
	"github.com/jrife/tabletcore/tablets"
)

// Group0 is the exclusive lease a coordinator holds for the duration of one
// batch commit, named group0_guard in §5. Two coordinators racing to commit
// never interleave: whichever holds the lease proposes its batch into the
// group0 log, and the loser blocks until the lease frees up or its context
// expires.
//
// The etcd client session supplies the lease itself (adapted from the
// teacher's flock leases, used here as an embedded client instead of a
// served API); Raft is the log batches are proposed through once the lease
// is held, adapted from the teacher's storage/raft Raft/RaftID pair.
type Group0 struct {
	ID   tabletraft.RaftID
	Raft tabletraft.Raft

	session *concurrency.Session
	mutex   *concurrency.Mutex
}

// NewGroup0 opens an etcd session scoped to leaseTTL and builds a Group0
// guard named id over it, backed by r for proposing committed batches.
// prefix namespaces the etcd keyspace the lease lives under, e.g.
// "/tabletcore/group0".
func NewGroup0(client *clientv3.Client, id tabletraft.RaftID, r tabletraft.Raft, prefix string, leaseTTL time.Duration) (*Group0, error) {
	ttlSeconds := int(leaseTTL.Seconds())

	if ttlSeconds <= 0 {
		ttlSeconds = 10
	}

	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttlSeconds))

	if err != nil {
		return nil, tablets.WrapError(tablets.ErrCatalogIO, err, "could not establish group0 session for %s", id)
	}

	return &Group0{ID: id, Raft: r, session: session, mutex: concurrency.NewMutex(session, prefix)}, nil
}

// Lock acquires the guard, blocking until it is held or ctx is done. A
// context cancellation or lease loss surfaces as concurrent_modification:
// the caller lost the race for this batch and should recompute and retry.
func (g *Group0) Lock(ctx context.Context) error {
	if err := g.mutex.Lock(ctx); err != nil {
		return tablets.WrapError(tablets.ErrConcurrentModification, err, "could not acquire group0 guard %s", g.ID)
	}

	return nil
}

// Unlock releases the guard.
func (g *Group0) Unlock(ctx context.Context) error {
	if err := g.mutex.Unlock(ctx); err != nil {
		return tablets.WrapError(tablets.ErrCatalogIO, err, "could not release group0 guard %s", g.ID)
	}

	return nil
}

// Propose appends data to the group0 log. Callers must hold the guard.
func (g *Group0) Propose(ctx context.Context, data []byte) error {
	return g.Raft.Propose(ctx, data)
}

// Close tears down the guard's etcd session, releasing its lease
// immediately rather than waiting out the TTL.
func (g *Group0) Close() error {
	return g.session.Close()
}

// LocalGuard is an in-process Guard for the standalone demo and tests,
// where a single coordinator never actually races itself for the lease.
// It still enforces mutual exclusion so a programming error (e.g. driving
// two transitions concurrently without holding the guard) is caught rather
// than silently tolerated.
type LocalGuard struct {
	locked chan struct{}
}

// NewLocalGuard returns an unlocked LocalGuard.
func NewLocalGuard() *LocalGuard {
	g := &LocalGuard{locked: make(chan struct{}, 1)}
	g.locked <- struct{}{}

	return g
}

// Lock implements Guard.
func (g *LocalGuard) Lock(ctx context.Context) error {
	select {
	case <-g.locked:
		return nil
	case <-ctx.Done():
		return tablets.WrapError(tablets.ErrConcurrentModification, ctx.Err(), "timed out waiting for local group0 guard")
	}
}

// Unlock implements Guard.
func (g *LocalGuard) Unlock(ctx context.Context) error {
	select {
	case g.locked <- struct{}{}:
		return nil
	default:
		return tablets.NewError(tablets.ErrInvalidRequest, "local group0 guard unlocked without being held")
	}
}
