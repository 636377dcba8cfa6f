// Package alloc implements the load sketch (§4.5), the allocator/balancer
// (§4.6), its resize control loop, and the RF reallocator (§4.8).
package alloc

import (
	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/topology"
)

// LoadSketch is a derived, read-only view of per-host and per-shard
// replica counts over a TabletMetadata's current and in-progress
// replicas. It holds no locks: callers populate one from an immutable
// TabletMetadata snapshot and then only read from it.
type LoadSketch struct {
	topology topology.Topology
	counts   map[tablets.HostID]map[tablets.ShardID]uint64
}

// NewLoadSketch creates an empty sketch over topo.
func NewLoadSketch(topo topology.Topology) *LoadSketch {
	return &LoadSketch{topology: topo, counts: map[tablets.HostID]map[tablets.ShardID]uint64{}}
}

// Populate fills the sketch from tm in O(total replicas). A replica
// participating in a transition counts once toward its current host and,
// if different, once more toward its pending_replica's host - both are
// "spoken for" from the allocator's point of view, since in-progress
// transitions are treated as already committed for planning purposes.
func (s *LoadSketch) Populate(tm *tablets.TabletMetadata) {
	tm.Tables(func(_ tablets.TableID, m *tablets.TabletMap) bool {
		s.PopulateFromMap(m)

		return true
	})
}

// PopulateFromMap fills the sketch from a single table's TabletMap, for
// callers (e.g. the RF reallocator) that only have one table in scope
// rather than a whole TabletMetadata.
func (s *LoadSketch) PopulateFromMap(m *tablets.TabletMap) {
	m.Tablets(func(id tablets.TabletID, info tablets.TabletInfo) bool {
		for _, r := range info {
			s.add(r, 1)
		}

		if transition, ok := m.GetTransition(id); ok {
			s.add(transition.PendingReplica, 1)
		}

		return true
	})
}

func (s *LoadSketch) add(r tablets.TabletReplica, delta int64) {
	byShard, ok := s.counts[r.Host]

	if !ok {
		byShard = map[tablets.ShardID]uint64{}
		s.counts[r.Host] = byShard
	}

	if delta >= 0 {
		byShard[r.Shard] += uint64(delta)
	} else if byShard[r.Shard] >= uint64(-delta) {
		byShard[r.Shard] -= uint64(-delta)
	} else {
		byShard[r.Shard] = 0
	}
}

// Add records one more replica landing on r. The allocator calls this as
// it tentatively proposes migrations, so later proposals see the effect of
// earlier ones within the same balance pass.
func (s *LoadSketch) Add(r tablets.TabletReplica) {
	s.add(r, 1)
}

// Remove records one fewer replica on r.
func (s *LoadSketch) Remove(r tablets.TabletReplica) {
	s.add(r, -1)
}

// Load returns the total replica count on host, summed across all its
// shards.
func (s *LoadSketch) Load(host tablets.HostID) uint64 {
	var total uint64

	for _, n := range s.counts[host] {
		total += n
	}

	return total
}

// ShardLoad returns the replica count on one specific shard of host.
func (s *LoadSketch) ShardLoad(host tablets.HostID, shard tablets.ShardID) uint64 {
	return s.counts[host][shard]
}

// AvgShardLoad returns Load(host) / shard_count(host). It returns 0 for a
// host with no shards (which should never legally occur per invariant 3).
func (s *LoadSketch) AvgShardLoad(host tablets.HostID) float64 {
	h, ok := s.topology.Host(host)

	if !ok || h.ShardCount == 0 {
		return 0
	}

	return float64(s.Load(host)) / float64(h.ShardCount)
}
