// Package coordinator drives the allocator and transition state machine end
// to end, per §5: acquiring the group0 guard, committing mutation batches
// through the catalog, and retrying a batch that loses the race with
// concurrent_modification. It is the only package that calls
// Catalog.Apply directly - everything upstream only ever produces plans and
// transition steps, never touches storage.
package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/alloc"
	"github.com/jrife/tabletcore/tablets/catalog"
	"github.com/jrife/tabletcore/tablets/loadstats"
	"github.com/jrife/tabletcore/tablets/streaming"
	"github.com/jrife/tabletcore/tablets/token"
	"github.com/jrife/tabletcore/tablets/topology"
	"github.com/jrife/tabletcore/tablets/transition"
	"github.com/jrife/tabletcore/utils/log"
)

// ErrAlterTabletsKeyspaceUnspecified marks that the wire request format for
// an RF change is not yet specified; see AlterTabletsKeyspace.
var ErrAlterTabletsKeyspaceUnspecified = tablets.NewError(tablets.ErrInvalidRequest, "alter_tablets_keyspace request body is not yet specified")

// Guard is the group0_guard of §5: an exclusive lease a coordinator holds
// for the duration of one batch commit. Group0 backs it with an etcd
// client-side lease and mutex; LocalGuard backs it in-process for the
// standalone demo and tests.
type Guard interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Coordinator drives one balance-and-commit cycle end to end: it reads the
// catalog, proposes a plan through the allocator, and commits the resulting
// transitions and resize decisions as a single guarded batch, retrying the
// whole cycle if the guard reports a concurrent_modification.
type Coordinator struct {
	Catalog   *catalog.Catalog
	Guard     Guard
	Allocator *alloc.Allocator
	Driver    *transition.Driver
	Logger    *zap.Logger

	// MaxRetries bounds how many times a batch is recomputed and retried
	// after losing the guard to a concurrent_modification before giving
	// up and returning the error to the caller.
	MaxRetries int

	// Clock supplies the commit timestamp for each batch. Defaults to a
	// monotonically increasing counter so tests don't need a wall clock.
	Clock func() int64

	clockSeq int64
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return zap.NewNop()
}

// loggerFor returns c.logger() enriched with any fields attached to ctx via
// log.WithFields, falling back to the bare logger if ctx carries none.
func (c *Coordinator) loggerFor(ctx context.Context) *zap.Logger {
	return log.WithContext(ctx, c.logger())
}

func (c *Coordinator) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}

	return 3
}

func (c *Coordinator) now() int64 {
	if c.Clock != nil {
		return c.Clock()
	}

	c.clockSeq++

	return c.clockSeq
}

// BalanceAndCommit runs one allocator pass over the current catalog state
// and commits it as a single guarded batch: every proposed migration starts
// its tablet's transition at allow_write_both_read_old, every resize
// decision is recorded, and any table whose split finalized gets its
// TabletMap replaced and persisted. It returns the plan that was committed.
//
// If the batch loses the guard to a concurrent writer, the whole cycle -
// read, plan, commit - is retried up to MaxRetries times against the new
// catalog state, since a plan computed against stale metadata may no longer
// be valid.
func (c *Coordinator) BalanceAndCommit(ctx context.Context, topo topology.Topology, stats loadstats.Stats, skip map[tablets.HostID]bool) (alloc.MigrationPlan, alloc.ResizePlan, error) {
	var plan alloc.MigrationPlan
	var resize alloc.ResizePlan
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries(); attempt++ {
		var batchErr error
		plan, resize, batchErr = c.runBalanceBatch(ctx, topo, stats, skip)

		if batchErr == nil {
			return plan, resize, nil
		}

		lastErr = batchErr

		if kind, ok := tablets.KindOf(batchErr); !ok || kind != tablets.ErrConcurrentModification {
			return nil, alloc.ResizePlan{}, batchErr
		}

		c.loggerFor(ctx).Warn("batch lost the group0 guard, retrying", zap.Int("attempt", attempt), zap.Error(batchErr))
	}

	return nil, alloc.ResizePlan{}, lastErr
}

func (c *Coordinator) runBalanceBatch(ctx context.Context, topo topology.Topology, stats loadstats.Stats, skip map[tablets.HostID]bool) (alloc.MigrationPlan, alloc.ResizePlan, error) {
	if err := c.Guard.Lock(ctx); err != nil {
		return nil, alloc.ResizePlan{}, err
	}

	defer c.Guard.Unlock(ctx)

	tm, err := c.Catalog.Read()

	if err != nil {
		return nil, alloc.ResizePlan{}, err
	}

	plan, resize, err := c.Allocator.BalanceTablets(tm, topo, stats, skip)

	if err != nil {
		return nil, alloc.ResizePlan{}, err
	}

	ts := c.now()

	for _, mig := range plan {
		m := tm.GetTabletMap(mig.Table)
		next := m.GetInfo(mig.Tablet).Clone()

		for i, r := range next {
			if r.Equal(mig.Src) {
				next[i] = mig.Dst
			}
		}

		mu := catalog.NewMutationBuilder(mig.Table, m.GetLastToken(mig.Tablet), ts).
			SetTransition(mig.Kind, next, mig.Dst).
			Build()

		if err := c.Catalog.Apply(mu); err != nil {
			return nil, alloc.ResizePlan{}, err
		}

		m.SetTransition(mig.Tablet, tablets.TabletTransitionInfo{Stage: tablets.StageAllowWriteBothReadOld, Kind: mig.Kind, NextReplicas: next, PendingReplica: mig.Dst})
	}

	finalize := map[tablets.TableID]bool{}

	for _, table := range resize.Finalize {
		finalize[table] = true
	}

	for table, decision := range resize.Decisions {
		if finalize[table] {
			continue
		}

		mu := catalog.NewMutationBuilder(table, token.MaxToken, ts).
			SetResizeDecision(decision).
			Build()

		if err := c.Catalog.Apply(mu); err != nil {
			return nil, alloc.ResizePlan{}, err
		}

		tm.GetTabletMap(table).SetResizeDecision(decision)
	}

	if len(finalize) > 0 {
		for table := range finalize {
			tm.SetTabletMap(table, alloc.ApplyFinalize(tm.GetTabletMap(table)))
		}

		if err := c.Catalog.Persist(tm, ts); err != nil {
			return nil, alloc.ResizePlan{}, err
		}
	}

	for _, m := range plan {
		c.loggerFor(ctx).Info("committed migration",
			zap.String("table", m.Table.String()),
			zap.Uint64("tablet", uint64(m.Tablet)),
			zap.String("dst", m.Dst.String()))
	}

	return plan, resize, nil
}

// DriveTransition advances one tablet's in-flight transition to completion,
// using streamer for the streaming stage and committing every stage change
// through the guard. It retries the whole drive on concurrent_modification,
// since the transition driver assumes uninterrupted ownership of the
// tablet's catalog row.
func (c *Coordinator) DriveTransition(ctx context.Context, table tablets.TableID, id tablets.TabletID, src tablets.TabletReplica, streamer streaming.Streamer) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries(); attempt++ {
		err := c.runDriveTransition(ctx, table, id, src, streamer)

		if err == nil {
			return nil
		}

		lastErr = err

		if kind, ok := tablets.KindOf(err); !ok || kind != tablets.ErrConcurrentModification {
			return err
		}

		c.loggerFor(ctx).Warn("transition drive lost the group0 guard, retrying", zap.String("table", table.String()), zap.Uint64("tablet", uint64(id)), zap.Int("attempt", attempt))
	}

	return lastErr
}

func (c *Coordinator) runDriveTransition(ctx context.Context, table tablets.TableID, id tablets.TabletID, src tablets.TabletReplica, streamer streaming.Streamer) error {
	if err := c.Guard.Lock(ctx); err != nil {
		return err
	}

	defer c.Guard.Unlock(ctx)

	tm, err := c.Catalog.Read()

	if err != nil {
		return err
	}

	m := tm.GetTabletMap(table)

	driver := transition.Driver{Logger: c.Logger, Streamer: streaming.NopStreamer{}}

	if c.Driver != nil {
		driver = *c.Driver
	}

	if streamer != nil {
		driver.Streamer = streamer
	}

	if driver.Streamer == nil {
		driver.Streamer = streaming.NopStreamer{}
	}

	commit := func(ctx context.Context, id tablets.TabletID, info *tablets.TabletTransitionInfo) error {
		ts := c.now()
		lastToken := m.GetLastToken(id)

		if info == nil {
			mu := catalog.NewMutationBuilder(table, lastToken, ts).
				SetReplicas(m.GetInfo(id)).
				DelTransition().
				Build()

			return c.Catalog.Apply(mu)
		}

		mu := catalog.NewMutationBuilder(table, lastToken, ts).
			SetTransition(info.Kind, info.NextReplicas, info.PendingReplica).
			SetStage(info.Stage).
			Build()

		return c.Catalog.Apply(mu)
	}

	return driver.Drive(ctx, m, id, src, commit)
}

// AlterTabletsKeyspace is the entry point for a keyspace replication factor
// change. It takes no request describing the tables or the new per-DC RF:
// it acquires the guard, releases it, and returns
// ErrAlterTabletsKeyspaceUnspecified. It does not call
// alloc.ReallocateTabletsForNewRF, commit anything, or retry.
func (c *Coordinator) AlterTabletsKeyspace(ctx context.Context) error {
	if err := c.Guard.Lock(ctx); err != nil {
		return err
	}

	defer c.Guard.Unlock(ctx)

	return ErrAlterTabletsKeyspaceUnspecified
}
