// Package transition implements the per-tablet migration state machine of
// §4.7: a linear walk from allow_write_both_read_old through end_migration,
// with rollback permitted only before reads shift to the new replica set.
//
// The state machine itself stores only (stage, kind, next_replicas,
// pending_replica, session_id?); it never talks to the catalog directly.
// Driver ties the pure stage arithmetic here to the coordinator's commit
// and streaming collaborators, mirroring how the teacher's state_machine
// package separates the StateMachine interface (pure Step) from whatever
// drives commits into the replicated log.
package transition

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/streaming"
)

// NextStage returns the stage that follows current for a transition of
// kind, or an error if current is already terminal or unrecognized.
// IntranodeMigration never streams, so its stages 1-4 are all folded into
// one shard-remap step: NextStage still reports the canonical stage names
// so catalog rows stay uniform, but Driver skips the streaming call for
// this kind.
func NextStage(kind tablets.Kind, current tablets.Stage) (tablets.Stage, error) {
	switch current {
	case tablets.StageAllowWriteBothReadOld:
		return tablets.StageWriteBothReadOld, nil
	case tablets.StageWriteBothReadOld:
		return tablets.StageStreaming, nil
	case tablets.StageStreaming:
		return tablets.StageWriteBothReadNew, nil
	case tablets.StageWriteBothReadNew:
		return tablets.StageUseNew, nil
	case tablets.StageUseNew:
		return tablets.StageCleanup, nil
	case tablets.StageCleanup:
		return tablets.StageEndMigration, nil
	case tablets.StageEndMigration:
		return 0, fmt.Errorf("transition: end_migration is terminal, there is no next stage")
	default:
		return 0, fmt.Errorf("transition: unrecognized stage %v", current)
	}
}

// CanRollback reports whether a transition currently at stage may still be
// rolled back. Rollback is permitted only from stages 1-3, before reads
// shift to the new replica set.
func CanRollback(stage tablets.Stage) bool {
	switch stage {
	case tablets.StageAllowWriteBothReadOld, tablets.StageWriteBothReadOld, tablets.StageStreaming:
		return true
	default:
		return false
	}
}

// Rollback checks that a transition at stage may be abandoned (transition
// cleared, no replica change); it returns nil if so and changes nothing
// itself. It is an error to call this once CanRollback is false; callers past that point must
// repair forward instead, e.g. by retrying streaming with a fresh session.
func Rollback(stage tablets.Stage) error {
	if !CanRollback(stage) {
		return tablets.NewError(tablets.ErrInvalidRequest, "cannot roll back a transition at stage %v; repair forward instead", stage)
	}

	return nil
}

// ValidateNewTransition checks invariant 4 for a transition about to be
// started: pending_replica must be a member of next_replicas, and
// next_replicas must differ from current by exactly one replica change
// (migration/intranode) or add exactly one replica (rebuild).
func ValidateNewTransition(current tablets.TabletInfo, info tablets.TabletTransitionInfo) error {
	found := false

	for _, r := range info.NextReplicas {
		if r.Equal(info.PendingReplica) {
			found = true

			break
		}
	}

	if !found {
		return tablets.NewError(tablets.ErrInvalidRequest, "pending replica %v is not a member of next_replicas", info.PendingReplica)
	}

	added, removed := diffReplicas(current, info.NextReplicas)

	switch info.Kind {
	case tablets.Migration, tablets.IntranodeMigration:
		if len(added) != 1 || len(removed) != 1 {
			return tablets.NewError(tablets.ErrInvalidRequest, "%v must change exactly one replica, got +%d/-%d", info.Kind, len(added), len(removed))
		}
	case tablets.Rebuild:
		if len(added) != 1 || len(removed) != 0 {
			return tablets.NewError(tablets.ErrInvalidRequest, "rebuild must add exactly one replica without removing any, got +%d/-%d", len(added), len(removed))
		}
	default:
		return tablets.NewError(tablets.ErrInvalidRequest, "unrecognized transition kind %v", info.Kind)
	}

	return nil
}

func diffReplicas(from, to tablets.TabletInfo) (added, removed []tablets.TabletReplica) {
	has := func(info tablets.TabletInfo, r tablets.TabletReplica) bool {
		for _, x := range info {
			if x.Equal(r) {
				return true
			}
		}

		return false
	}

	for _, r := range to {
		if !has(from, r) {
			added = append(added, r)
		}
	}

	for _, r := range from {
		if !has(to, r) {
			removed = append(removed, r)
		}
	}

	return added, removed
}

// Commit durably records a tablet's new transition state (or its absence,
// once the transition ends) in the catalog. The coordinator supplies this;
// Driver never talks to the catalog directly so it stays reusable outside
// the real coordinator (e.g. from the allocator's model-based tests).
type Commit func(ctx context.Context, id tablets.TabletID, info *tablets.TabletTransitionInfo) error

// Driver advances one tablet's transition through its stages, invoking the
// streaming collaborator between write_both_read_old and streaming, and
// retrying streaming failures up to MaxStreamingRetries times before
// stage 4 (write_both_read_new). After that point failures must be
// repaired forward, per §4.7.
type Driver struct {
	Streamer            streaming.Streamer
	MaxStreamingRetries int
	Logger              *zap.Logger
}

// Drive advances m's transition for tablet id by one full run to
// end_migration, committing every stage change via commit. It returns nil
// once the transition reaches end_migration and the tablet's current
// replicas have been updated to next_replicas.
func (d *Driver) Drive(ctx context.Context, m *tablets.TabletMap, id tablets.TabletID, src tablets.TabletReplica, commit Commit) error {
	info, ok := m.GetTransition(id)

	if !ok {
		return tablets.NewError(tablets.ErrInvalidRequest, "tablet %d has no pending transition to drive", id)
	}

	logger := d.logger()
	retries := 0

	for {
		switch info.Stage {
		case tablets.StageEndMigration:
			m.SetInfo(id, info.NextReplicas)
			m.ClearTransition(id)

			return commit(ctx, id, nil)
		case tablets.StageWriteBothReadOld:
			if info.Kind != tablets.IntranodeMigration {
				session := uuid.New()
				info.SessionID = &session
			}
		case tablets.StageStreaming:
			if info.Kind != tablets.IntranodeMigration {
				first, last := m.GetFirstToken(id), m.GetLastToken(id)

				if err := d.Streamer.Start(ctx, *info.SessionID, src, info.PendingReplica, streaming.Range{First: first, Last: last}); err != nil {
					retries++

					if retries > d.MaxStreamingRetries {
						streamErr := tablets.NewError(tablets.ErrStreamingFailure, "exceeded %d streaming retries for tablet %d", d.MaxStreamingRetries, id)
						streamErr.Retries = retries

						return streamErr
					}

					logger.Warn("streaming failed, retrying with a fresh session",
						zap.Uint64("tablet", uint64(id)), zap.Int("retry", retries), zap.Error(err))

					// Repair forward from the pre-read-switch stage, per
					// §4.7: back up to write_both_read_old so the next loop
					// mints a fresh session before re-entering streaming.
					info.Stage = tablets.StageWriteBothReadOld
					info.SessionID = nil
					m.SetTransition(id, info)

					if err := commit(ctx, id, &info); err != nil {
						return err
					}

					continue
				}
			}
		}

		next, err := NextStage(info.Kind, info.Stage)

		if err != nil {
			return err
		}

		info.Stage = next
		m.SetTransition(id, info)

		logger.Debug("advanced tablet transition",
			zap.Uint64("tablet", uint64(id)), zap.Stringer("stage", info.Stage), zap.Stringer("kind", info.Kind))

		if err := commit(ctx, id, &info); err != nil {
			return err
		}
	}
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}

	return zap.NewNop()
}
