package catalog

import (
	"github.com/google/uuid"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/token"
)

// FieldOp names one of the partial update operations a MutationBuilder can
// accumulate. Mutation keeps one field per operation and no record of the
// order they were called in; applying them is commutative by field.
type FieldOp int

const (
	OpSetReplicas FieldOp = iota
	OpSetNewReplicas
	OpSetStage
	OpSetTransition
	OpDelTransition
	OpSetSession
	OpSetResizeDecision
)

// Mutation is one atomic, timestamped batch of field updates scoped to a
// single (table_id, last_token) catalog row. DelTransition is a tombstone
// covering Stage, Kind, NewReplicas, PendingReplica and Session together at
// the same Timestamp as any other op in the same Mutation, so a concurrent
// reader can never observe a half-cleared transition.
type Mutation struct {
	Table     tablets.TableID
	LastToken token.Token
	Timestamp int64

	Replicas       *tablets.TabletInfo
	NewReplicas    *tablets.TabletInfo
	Stage          *tablets.Stage
	Kind           *tablets.Kind
	PendingReplica *tablets.TabletReplica
	Session        *uuid.UUID
	DelTransition  bool
	ResizeDecision *tablets.ResizeDecision
}

// MutationBuilder accumulates partial field updates for one tablet row.
// Every operation stamps the same caller-supplied timestamp; calling
// multiple Set*/Del* methods on one builder merges into a single Mutation
// rather than one mutation per field.
type MutationBuilder struct {
	m Mutation
}

// NewMutationBuilder starts a builder for one row, timestamped ts.
func NewMutationBuilder(table tablets.TableID, lastToken token.Token, ts int64) *MutationBuilder {
	return &MutationBuilder{m: Mutation{Table: table, LastToken: lastToken, Timestamp: ts}}
}

// SetReplicas sets the tablet's current replica set.
func (b *MutationBuilder) SetReplicas(info tablets.TabletInfo) *MutationBuilder {
	clone := info.Clone()
	b.m.Replicas = &clone

	return b
}

// SetNewReplicas sets the transition target replica set without touching
// any other transition field.
func (b *MutationBuilder) SetNewReplicas(info tablets.TabletInfo) *MutationBuilder {
	clone := info.Clone()
	b.m.NewReplicas = &clone

	return b
}

// SetStage sets the transition's current stage.
func (b *MutationBuilder) SetStage(stage tablets.Stage) *MutationBuilder {
	b.m.Stage = &stage

	return b
}

// SetTransition starts (or rewrites) a transition: kind, target replicas,
// and the replica being added/moved, all at once, as stage
// allow_write_both_read_old.
func (b *MutationBuilder) SetTransition(kind tablets.Kind, next tablets.TabletInfo, pending tablets.TabletReplica) *MutationBuilder {
	stage := tablets.StageAllowWriteBothReadOld
	nextClone := next.Clone()

	b.m.Kind = &kind
	b.m.NewReplicas = &nextClone
	b.m.PendingReplica = &pending
	b.m.Stage = &stage

	return b
}

// DelTransition tombstones every transition field (stage, kind,
// new_replicas, pending_replica, session) at this mutation's timestamp.
func (b *MutationBuilder) DelTransition() *MutationBuilder {
	b.m.DelTransition = true

	return b
}

// SetSession sets the streaming session handle bound to this tablet's
// transition.
func (b *MutationBuilder) SetSession(session uuid.UUID) *MutationBuilder {
	b.m.Session = &session

	return b
}

// SetResizeDecision sets the table-wide resize decision. Per §6 this is
// stored once per table, on the row keyed by the table's max_token tablet:
// Apply writes it to whichever row this builder's LastToken names, so
// callers must build with token.MaxToken when setting a resize decision.
func (b *MutationBuilder) SetResizeDecision(d tablets.ResizeDecision) *MutationBuilder {
	b.m.ResizeDecision = &d

	return b
}

// Build finalizes the accumulated operations into a Mutation.
func (b *MutationBuilder) Build() Mutation {
	return b.m
}
