package alloc

import (
	"sort"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
	"go.uber.org/zap"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/loadstats"
	"github.com/jrife/tabletcore/tablets/topology"
)

// Migration is one proposed replica move.
type Migration struct {
	Table  tablets.TableID
	Tablet tablets.TabletID
	Src    tablets.TabletReplica
	Dst    tablets.TabletReplica
	Kind   tablets.Kind
}

// MigrationPlan is an ordered sequence of proposed migrations. Order matters
// only for readability and test determinism; the coordinator may commit them
// in any order subject to the transition state machine's own sequencing.
type MigrationPlan []Migration

// Allocator computes a MigrationPlan and ResizePlan for one balance pass. It
// holds no mutable state between passes: every call is a pure function of
// its inputs.
type Allocator struct {
	// Config tunes the resize control loop; see resize.go.
	Config Config
	// Shuffle is an error-injection hook: when set, BalanceTablets forces
	// at least one swap even if the cluster is already balanced. Tests
	// use it to exercise the "always make forward progress" path without
	// fabricating an imbalanced topology.
	Shuffle bool
	// Logger receives a structured line per proposed migration and per
	// resize decision. Defaults to the no-op logger if nil.
	Logger *zap.Logger

	// maxIterations bounds the general balance pass so a pathological
	// input can't spin the allocator forever; it is not part of the
	// public contract, only a safety valve.
	maxIterations int
}

func (a *Allocator) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}

	return a.Logger
}

func (a *Allocator) iterations() int {
	if a.maxIterations > 0 {
		return a.maxIterations
	}

	return 1000
}

// BalanceTablets computes a migration plan and resize plan for tm given the
// current topology, optional load statistics, and an optional skip-list of
// unreachable hosts. It never mutates tm.
func (a *Allocator) BalanceTablets(tm *tablets.TabletMetadata, topo topology.Topology, stats loadstats.Stats, skip map[tablets.HostID]bool) (MigrationPlan, ResizePlan, error) {
	sketch := NewLoadSketch(topo)
	sketch.Populate(tm)

	var plan MigrationPlan

	decommission, err := a.planDecommissions(tm, topo, sketch, skip)

	if err != nil {
		return nil, ResizePlan{}, err
	}

	plan = append(plan, decommission...)

	if tm.BalancingEnabled() {
		balance, err := a.planBalance(tm, topo, sketch, skip, decommission)

		if err != nil {
			return nil, ResizePlan{}, err
		}

		plan = append(plan, balance...)

		if a.Shuffle && len(plan) == 0 {
			if swap := a.forceShuffle(tm, topo, sketch, skip); swap != nil {
				plan = append(plan, *swap)
			}
		}
	}

	var resize ResizePlan

	if tm.BalancingEnabled() {
		resize = a.planResize(tm, stats)
	}

	for _, m := range plan {
		a.logger().Info("proposed migration",
			zap.String("table", m.Table.String()),
			zap.Uint64("tablet", uint64(m.Tablet)),
			zap.String("src", m.Src.String()),
			zap.String("dst", m.Dst.String()),
			zap.String("kind", m.Kind.String()))
	}

	for table, d := range resize.Decisions {
		a.logger().Info("resize decision",
			zap.String("table", table.String()),
			zap.String("way", d.Way.String()),
			zap.Uint64("seq", uint64(d.SequenceNumber)))
	}

	return plan, resize, nil
}

// planDecommissions moves every replica off any being_decommissioned host,
// regardless of balancing_enabled - decommission drains are mandatory.
func (a *Allocator) planDecommissions(tm *tablets.TabletMetadata, topo topology.Topology, sketch *LoadSketch, skip map[tablets.HostID]bool) (MigrationPlan, error) {
	var draining []tablets.HostID

	topo.Hosts(func(h topology.Host) bool {
		if h.State == topology.BeingDecommissioned {
			draining = append(draining, h.ID)
		}

		return true
	})

	if len(draining) == 0 {
		return nil, nil
	}

	drainSet := map[tablets.HostID]bool{}

	for _, id := range draining {
		drainSet[id] = true
	}

	var plan MigrationPlan

	var planErr error

	tm.Tables(func(table tablets.TableID, m *tablets.TabletMap) bool {
		m.Tablets(func(id tablets.TabletID, info tablets.TabletInfo) bool {
			if _, inFlight := m.GetTransition(id); inFlight {
				return true
			}

			for _, r := range info {
				if !drainSet[r.Host] {
					continue
				}

				h, ok := topo.Host(r.Host)

				if !ok {
					continue
				}

				rf, _ := perDCCounts(topo, info)

				dst, destOK, rackBlocked := chooseDestination(topo, sketch, h.DC, info, mergeSkip(skip, drainSet), rf[h.DC], a.Config.rackUniqueness())

				if !destOK {
					kind := tablets.ErrNotEnoughNodes

					if rackBlocked {
						kind = tablets.ErrRackConstraintViolation
					}

					dcErr := tablets.NewError(kind, "no destination available to drain host %s in dc %s", r.Host, h.DC)
					dcErr.DC = h.DC
					planErr = dcErr

					return false
				}

				sketch.Add(dst)
				plan = append(plan, Migration{Table: table, Tablet: id, Src: r, Dst: dst, Kind: tablets.Migration})
			}

			return planErr == nil
		})

		return planErr == nil
	})

	if planErr != nil {
		return nil, planErr
	}

	sort.Slice(plan, func(i, j int) bool { return plan[i].Tablet < plan[j].Tablet })

	return plan, nil
}

func mergeSkip(skip, extra map[tablets.HostID]bool) map[tablets.HostID]bool {
	merged := map[tablets.HostID]bool{}

	for id := range skip {
		merged[id] = true
	}

	for id := range extra {
		merged[id] = true
	}

	return merged
}

// orderByDescendingOverload returns hosts sorted most-overloaded first,
// ties broken by host id for determinism. Built on a gods treeset rather
// than sort.Slice so the ordering step matches the comparator-driven
// container style the teacher uses for its other ordered collections.
func orderByDescendingOverload(hosts []topology.Host, sketch *LoadSketch) []topology.Host {
	set := treeset.NewWith(func(a, b interface{}) int {
		ha, hb := a.(topology.Host), b.(topology.Host)
		la, lb := sketch.AvgShardLoad(ha.ID), sketch.AvgShardLoad(hb.ID)

		if la != lb {
			if la > lb {
				return -1
			}

			return 1
		}

		return utils.StringComparator(ha.ID.String(), hb.ID.String())
	})

	for _, h := range hosts {
		set.Add(h)
	}

	ordered := make([]topology.Host, 0, set.Size())

	for _, v := range set.Values() {
		ordered = append(ordered, v.(topology.Host))
	}

	return ordered
}

// planBalance runs the overloaded-host-first pass of §4.6 step 2-3: for
// each normal, non-decommissioning, non-skip-listed host sorted by
// decreasing overload, it moves one movable replica to the least-loaded
// compatible host, stopping once no host is overloaded relative to the
// cluster mean or the iteration budget is exhausted.
func (a *Allocator) planBalance(tm *tablets.TabletMetadata, topo topology.Topology, sketch *LoadSketch, skip map[tablets.HostID]bool, already MigrationPlan) (MigrationPlan, error) {
	var plan MigrationPlan

	// proposed tracks every (table, tablet) this pass has already moved,
	// including the drains in already. Proposals mutate only the sketch,
	// never tm itself, so without this a later iteration could pick the
	// same still-on-its-original-host tablet a second time and
	// double-count its move.
	proposed := map[proposalKey]bool{}

	for _, m := range already {
		proposed[proposalKey{m.Table, m.Tablet}] = true
	}

	for i := 0; i < a.iterations(); i++ {
		hosts := eligibleForRebalance(topo, skip)

		if len(hosts) == 0 {
			break
		}

		mean := meanShardLoad(sketch, hosts)
		orderedHosts := orderByDescendingOverload(hosts, sketch)

		moved := false

		for _, src := range orderedHosts {
			if sketch.AvgShardLoad(src.ID)-mean <= 0 {
				break
			}

			m, ok, err := a.proposeOneMove(tm, topo, sketch, src, skip, proposed)

			if err != nil {
				return nil, err
			}

			if ok {
				plan = append(plan, m)
				proposed[proposalKey{m.Table, m.Tablet}] = true
				moved = true

				break
			}
		}

		if !moved {
			break
		}
	}

	return plan, nil
}

type proposalKey struct {
	table  tablets.TableID
	tablet tablets.TabletID
}

// proposeOneMove finds src's most movable tablet - one whose replica set
// still satisfies RF/rack after the move and that this pass hasn't already
// proposed moving - and proposes a destination for it within the same DC.
func (a *Allocator) proposeOneMove(tm *tablets.TabletMetadata, topo topology.Topology, sketch *LoadSketch, src topology.Host, skip map[tablets.HostID]bool, proposed map[proposalKey]bool) (Migration, bool, error) {
	var found Migration
	var ok bool

	tm.Tables(func(table tablets.TableID, m *tablets.TabletMap) bool {
		m.Tablets(func(id tablets.TabletID, info tablets.TabletInfo) bool {
			if ok {
				return false
			}

			if proposed[proposalKey{table, id}] {
				return true
			}

			if _, inFlight := m.GetTransition(id); inFlight {
				return true
			}

			var replica tablets.TabletReplica
			var onHost bool

			for _, r := range info {
				if r.Host == src.ID {
					replica = r
					onHost = true

					break
				}
			}

			if !onHost {
				return true
			}

			rf, _ := perDCCounts(topo, info)
			dst, can, _ := chooseDestination(topo, sketch, src.DC, info, skip, rf[src.DC], a.Config.rackUniqueness())

			if !can || dst.Host == src.ID {
				return true
			}

			found = Migration{Table: table, Tablet: id, Src: replica, Dst: dst, Kind: tablets.Migration}
			ok = true

			return false
		})

		return !ok
	})

	if ok {
		sketch.Remove(found.Src)
		sketch.Add(found.Dst)
	}

	return found, ok, nil
}

func eligibleForRebalance(topo topology.Topology, skip map[tablets.HostID]bool) []topology.Host {
	var out []topology.Host

	topo.Hosts(func(h topology.Host) bool {
		if h.State != topology.Normal {
			return true
		}

		if skip[h.ID] {
			return true
		}

		out = append(out, h)

		return true
	})

	return out
}

func meanShardLoad(sketch *LoadSketch, hosts []topology.Host) float64 {
	if len(hosts) == 0 {
		return 0
	}

	var total float64

	for _, h := range hosts {
		total += sketch.AvgShardLoad(h.ID)
	}

	return total / float64(len(hosts))
}

// forceShuffle picks any one tablet and swaps its replica between two
// eligible hosts in the same DC, even though the cluster is already
// balanced - the §4.6 step 4 error-injection hook.
func (a *Allocator) forceShuffle(tm *tablets.TabletMetadata, topo topology.Topology, sketch *LoadSketch, skip map[tablets.HostID]bool) *Migration {
	var swap *Migration

	tm.Tables(func(table tablets.TableID, m *tablets.TabletMap) bool {
		m.Tablets(func(id tablets.TabletID, info tablets.TabletInfo) bool {
			if len(info) == 0 {
				return true
			}

			if _, inFlight := m.GetTransition(id); inFlight {
				return true
			}

			src := info[0]
			h, ok := topo.Host(src.Host)

			if !ok {
				return true
			}

			rf, _ := perDCCounts(topo, info)
			dst, ok, _ := chooseDestination(topo, sketch, h.DC, info, skip, rf[h.DC], a.Config.rackUniqueness())

			if !ok || dst.Host == src.Host {
				return true
			}

			mig := Migration{Table: table, Tablet: id, Src: src, Dst: dst, Kind: tablets.Migration}
			swap = &mig

			return false
		})

		return swap == nil
	})

	return swap
}
