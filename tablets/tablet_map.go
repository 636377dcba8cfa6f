// Package tablets holds the in-memory partition-map model: TabletMap,
// TabletMetadata, the mutation builder and catalog codec live in
// sub-packages that depend on this one, never the other way, so the model
// itself never needs to know how it is persisted or balanced.
package tablets

import (
	"fmt"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/google/uuid"

	"github.com/jrife/tabletcore/tablets/token"
)

// TableID identifies one table's tablet map within a TabletMetadata.
type TableID = uuid.UUID

// HostID identifies one node in the topology.
type HostID = uuid.UUID

// ShardID identifies one CPU shard on a host.
type ShardID uint32

// TabletID is a dense, non-negative index local to one TabletMap.
type TabletID = token.TabletID

// TabletReplica names the shard on a host that stores one tablet's data.
type TabletReplica struct {
	Host  HostID
	Shard ShardID
}

func (r TabletReplica) String() string {
	return fmt.Sprintf("%s/%d", r.Host, r.Shard)
}

// Equal reports whether r and other name the same (host, shard).
func (r TabletReplica) Equal(other TabletReplica) bool {
	return r.Host == other.Host && r.Shard == other.Shard
}

// TabletInfo is the ordered, current replica set for one tablet. Its length
// equals the owning table's total replication factor.
type TabletInfo []TabletReplica

// Clone returns an independent copy of info.
func (info TabletInfo) Clone() TabletInfo {
	if info == nil {
		return nil
	}

	clone := make(TabletInfo, len(info))
	copy(clone, info)

	return clone
}

// HasHost reports whether any replica in info is on host.
func (info TabletInfo) HasHost(host HostID) bool {
	for _, r := range info {
		if r.Host == host {
			return true
		}
	}

	return false
}

// Stage names a step of the per-tablet transition protocol. Stages advance
// linearly 1->7; see Kind for which steps a given transition kind actually
// performs.
type Stage int

const (
	StageAllowWriteBothReadOld Stage = iota + 1
	StageWriteBothReadOld
	StageStreaming
	StageWriteBothReadNew
	StageUseNew
	StageCleanup
	StageEndMigration
)

func (s Stage) String() string {
	switch s {
	case StageAllowWriteBothReadOld:
		return "allow_write_both_read_old"
	case StageWriteBothReadOld:
		return "write_both_read_old"
	case StageStreaming:
		return "streaming"
	case StageWriteBothReadNew:
		return "write_both_read_new"
	case StageUseNew:
		return "use_new"
	case StageCleanup:
		return "cleanup"
	case StageEndMigration:
		return "end_migration"
	default:
		return "unknown"
	}
}

// StageFromString is the inverse of Stage.String. The catalog codec stores
// stages as a byte and does not use it.
func StageFromString(s string) (Stage, bool) {
	for st := StageAllowWriteBothReadOld; st <= StageEndMigration; st++ {
		if st.String() == s {
			return st, true
		}
	}

	return 0, false
}

// Kind distinguishes the three reasons a tablet might be transitioning.
type Kind int

const (
	// Migration replaces one replica with another host's replica.
	Migration Kind = iota
	// IntranodeMigration moves a replica to a different shard on the same
	// host; it performs no streaming and collapses stages 1-4 into a
	// shard remap at stage 4.
	IntranodeMigration
	// Rebuild adds a replica to the set without removing any, used for
	// RF upsize.
	Rebuild
)

func (k Kind) String() string {
	switch k {
	case Migration:
		return "migration"
	case IntranodeMigration:
		return "intranode_migration"
	case Rebuild:
		return "rebuild"
	default:
		return "unknown"
	}
}

// KindFromString is the inverse of Kind.String.
func KindFromString(s string) (Kind, bool) {
	for k := Migration; k <= Rebuild; k++ {
		if k.String() == s {
			return k, true
		}
	}

	return 0, false
}

// TabletTransitionInfo is present on a tablet iff a migration is in
// progress.
type TabletTransitionInfo struct {
	Stage          Stage
	Kind           Kind
	NextReplicas   TabletInfo
	PendingReplica TabletReplica
	SessionID      *uuid.UUID
}

// Clone returns an independent copy of info.
func (info TabletTransitionInfo) Clone() TabletTransitionInfo {
	clone := info
	clone.NextReplicas = info.NextReplicas.Clone()

	if info.SessionID != nil {
		id := *info.SessionID
		clone.SessionID = &id
	}

	return clone
}

// ResizeWay names the kind of resize a table is headed toward, if any.
type ResizeWay int

const (
	ResizeNone ResizeWay = iota
	ResizeSplit
	ResizeMerge
)

func (w ResizeWay) String() string {
	switch w {
	case ResizeNone:
		return "none"
	case ResizeSplit:
		return "split"
	case ResizeMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// ResizeWayFromString is the inverse of ResizeWay.String.
func ResizeWayFromString(s string) (ResizeWay, bool) {
	for w := ResizeNone; w <= ResizeMerge; w++ {
		if w.String() == s {
			return w, true
		}
	}

	return 0, false
}

// ResizeDecision advertises an impending split or merge of a table's
// tablets. SequenceNumber only ever increases for a given table.
type ResizeDecision struct {
	Way            ResizeWay
	SequenceNumber uint64
}

func tabletIDComparator(a, b interface{}) int {
	return utils.UInt64Comparator(uint64(a.(TabletID)), uint64(b.(TabletID)))
}

// TabletMap is one table's tablet -> replicas mapping plus any pending
// transitions. The tablet count is always a power of two, or 1.
type TabletMap struct {
	count       uint64
	tablets     []TabletInfo
	transitions *treemap.Map
	resize      ResizeDecision
}

// NewTabletMap creates a TabletMap with count tablets, each with an empty
// replica set. count must satisfy token.ValidCount.
func NewTabletMap(count uint64) *TabletMap {
	if !token.ValidCount(count) {
		panic(fmt.Sprintf("invalid tablet count %d: must be a power of two, or 1", count))
	}

	return &TabletMap{
		count:       count,
		tablets:     make([]TabletInfo, count),
		transitions: treemap.NewWith(tabletIDComparator),
	}
}

// Count returns the number of tablets in this map.
func (m *TabletMap) Count() uint64 {
	return m.count
}

// GetInfo returns the current replica set for tablet id.
func (m *TabletMap) GetInfo(id TabletID) TabletInfo {
	m.mustValidID(id)

	return m.tablets[id]
}

// SetInfo replaces the current replica set for tablet id.
func (m *TabletMap) SetInfo(id TabletID, info TabletInfo) {
	m.mustValidID(id)

	m.tablets[id] = info.Clone()
}

// GetTransition returns the pending transition for tablet id, if any.
func (m *TabletMap) GetTransition(id TabletID) (TabletTransitionInfo, bool) {
	m.mustValidID(id)

	v, ok := m.transitions.Get(id)

	if !ok {
		return TabletTransitionInfo{}, false
	}

	return v.(TabletTransitionInfo), true
}

// SetTransition sets the pending transition for tablet id.
func (m *TabletMap) SetTransition(id TabletID, info TabletTransitionInfo) {
	m.mustValidID(id)

	m.transitions.Put(id, info.Clone())
}

// ClearTransition removes the pending transition for tablet id, if any.
func (m *TabletMap) ClearTransition(id TabletID) {
	m.mustValidID(id)

	m.transitions.Remove(id)
}

// GetShard returns the shard that host stores tablet id's current (not
// pending) replica on. There is at most one match by invariant 1; the
// first match wins.
func (m *TabletMap) GetShard(id TabletID, host HostID) (ShardID, bool) {
	m.mustValidID(id)

	for _, r := range m.tablets[id] {
		if r.Host == host {
			return r.Shard, true
		}
	}

	return 0, false
}

// Tablets iterates over every tablet id in ascending order, calling fn with
// each one's current replica set. Iteration stops early if fn returns
// false.
func (m *TabletMap) Tablets(fn func(id TabletID, info TabletInfo) bool) {
	for i, info := range m.tablets {
		if !fn(TabletID(i), info) {
			return
		}
	}
}

// Transitions iterates over every tablet with a pending transition, in
// ascending tablet id order. Iteration stops early if fn returns false.
func (m *TabletMap) Transitions(fn func(id TabletID, info TabletTransitionInfo) bool) {
	it := m.transitions.Iterator()

	for it.Next() {
		if !fn(it.Key().(TabletID), it.Value().(TabletTransitionInfo)) {
			return
		}
	}
}

// GetFirstToken returns the exclusive lower token bound of tablet id.
func (m *TabletMap) GetFirstToken(id TabletID) token.Token {
	m.mustValidID(id)

	return token.FirstToken(id, m.count)
}

// GetLastToken returns the inclusive upper token bound of tablet id.
func (m *TabletMap) GetLastToken(id TabletID) token.Token {
	m.mustValidID(id)

	return token.LastToken(id, m.count)
}

// GetTokenRange returns (FirstToken, LastToken] for tablet id.
func (m *TabletMap) GetTokenRange(id TabletID) (token.Token, token.Token) {
	return m.GetFirstToken(id), m.GetLastToken(id)
}

// TabletOf returns the id of the tablet owning t.
func (m *TabletMap) TabletOf(t token.Token) TabletID {
	return token.TabletOf(t, m.count)
}

// ResizeDecision returns the table's current resize decision.
func (m *TabletMap) ResizeDecision() ResizeDecision {
	return m.resize
}

// SetResizeDecision sets the table's resize decision. Callers (the
// allocator) are responsible for invariant 6: SequenceNumber must never
// decrease.
func (m *TabletMap) SetResizeDecision(d ResizeDecision) {
	m.resize = d
}

// Clone returns a deep, independent copy of m.
func (m *TabletMap) Clone() *TabletMap {
	clone := &TabletMap{
		count:       m.count,
		tablets:     make([]TabletInfo, len(m.tablets)),
		transitions: treemap.NewWith(tabletIDComparator),
		resize:      m.resize,
	}

	for i, info := range m.tablets {
		clone.tablets[i] = info.Clone()
	}

	m.Transitions(func(id TabletID, info TabletTransitionInfo) bool {
		clone.transitions.Put(id, info.Clone())

		return true
	})

	return clone
}

// Split doubles the tablet count: old tablet i becomes new tablets 2i
// (left) and 2i+1 (right), both inheriting i's current replica set. Any
// pending transitions are dropped, as a split is only performed once a
// table has no transitions in flight (the resize finalize path in the
// allocator enforces this before calling Split).
func (m *TabletMap) Split() *TabletMap {
	split := &TabletMap{
		count:       m.count * 2,
		tablets:     make([]TabletInfo, m.count*2),
		transitions: treemap.NewWith(tabletIDComparator),
		resize:      ResizeDecision{Way: ResizeNone, SequenceNumber: m.resize.SequenceNumber},
	}

	for i, info := range m.tablets {
		left, right := token.Split(TabletID(i))
		split.tablets[left] = info.Clone()
		split.tablets[right] = info.Clone()
	}

	return split
}

// Merge halves the tablet count: tablets 2i and 2i+1 collapse into tablet
// i. The caller must ensure both halves agree on their replica set before
// merging; Merge takes the left half's replica set.
func (m *TabletMap) Merge() *TabletMap {
	merged := &TabletMap{
		count:       m.count / 2,
		tablets:     make([]TabletInfo, m.count/2),
		transitions: treemap.NewWith(tabletIDComparator),
		resize:      ResizeDecision{Way: ResizeNone, SequenceNumber: m.resize.SequenceNumber},
	}

	for i := range merged.tablets {
		left, _ := token.Split(TabletID(i))
		merged.tablets[i] = m.tablets[left].Clone()
	}

	return merged
}

func (m *TabletMap) mustValidID(id TabletID) {
	if uint64(id) >= m.count {
		panic(fmt.Sprintf("tablet id %d out of range for map with %d tablets", id, m.count))
	}
}

// TabletMetadata maps every table to its TabletMap, plus the cluster-wide
// balancing toggle.
type TabletMetadata struct {
	tables           map[TableID]*TabletMap
	balancingEnabled bool
}

// NewTabletMetadata creates empty metadata with balancing enabled.
func NewTabletMetadata() *TabletMetadata {
	return &TabletMetadata{
		tables:           map[TableID]*TabletMap{},
		balancingEnabled: true,
	}
}

// SetTabletMap installs tm as the map for table.
func (tm *TabletMetadata) SetTabletMap(table TableID, m *TabletMap) {
	tm.tables[table] = m
}

// GetTabletMap returns the map for table, or nil if table is unknown.
func (tm *TabletMetadata) GetTabletMap(table TableID) *TabletMap {
	return tm.tables[table]
}

// DeleteTabletMap removes table's map entirely, used when a table is
// dropped.
func (tm *TabletMetadata) DeleteTabletMap(table TableID) {
	delete(tm.tables, table)
}

// Tables iterates over every table id in no particular order.
func (tm *TabletMetadata) Tables(fn func(table TableID, m *TabletMap) bool) {
	for table, m := range tm.tables {
		if !fn(table, m) {
			return
		}
	}
}

// BalancingEnabled reports whether the allocator is allowed to propose
// migrations for load-balancing purposes. Drain-to-zero decommissions are
// proposed regardless of this flag.
func (tm *TabletMetadata) BalancingEnabled() bool {
	return tm.balancingEnabled
}

// SetBalancingEnabled sets the cluster-wide balancing toggle.
func (tm *TabletMetadata) SetBalancingEnabled(enabled bool) {
	tm.balancingEnabled = enabled
}

// Clone returns a deep, independent copy of tm.
func (tm *TabletMetadata) Clone() *TabletMetadata {
	clone := &TabletMetadata{
		tables:           make(map[TableID]*TabletMap, len(tm.tables)),
		balancingEnabled: tm.balancingEnabled,
	}

	for table, m := range tm.tables {
		clone.tables[table] = m.Clone()
	}

	return clone
}
