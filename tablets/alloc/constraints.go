package alloc

import (
	"sort"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/topology"
)

// perDCCounts tallies how many of info's replicas live in each DC and each
// (DC, rack) pair, used both to preserve RF-per-DC across a migration and to
// evaluate rack uniqueness.
func perDCCounts(topo topology.Topology, info tablets.TabletInfo) (byDC map[string]int, byRack map[string]int) {
	byDC = map[string]int{}
	byRack = map[string]int{}

	for _, r := range info {
		h, ok := topo.Host(r.Host)

		if !ok {
			continue
		}

		byDC[h.DC]++
		byRack[h.DC+"/"+h.Rack]++
	}

	return byDC, byRack
}

// racksInDC returns the distinct racks among hosts in dc that have not yet
// left the cluster. A host being_decommissioned still occupies its rack
// until the decommission completes, so it counts here even though
// eligibleDestinations excludes it as a placement target; otherwise
// decommissioning a rack's last host would silently relax rack uniqueness
// for the replicas being drained off of it.
func racksInDC(topo topology.Topology, dc string) map[string]bool {
	racks := map[string]bool{}

	topo.HostsInDC(dc, func(h topology.Host) bool {
		if h.State != topology.Left {
			racks[h.Rack] = true
		}

		return true
	})

	return racks
}

// eligibleDestinations returns, in dc, every host that can legally receive a
// new replica: normal state, not being decommissioned, not skip-listed, and
// not already holding a replica of this tablet.
func eligibleDestinations(topo topology.Topology, dc string, info tablets.TabletInfo, skip map[tablets.HostID]bool) []topology.Host {
	var out []topology.Host

	topo.HostsInDC(dc, func(h topology.Host) bool {
		if h.State != topology.Normal {
			return true
		}

		if skip[h.ID] {
			return true
		}

		if info.HasHost(h.ID) {
			return true
		}

		out = append(out, h)

		return true
	})

	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })

	return out
}

// rackUniquenessRequired reports whether dc has at least rf distinct racks
// among its hosts that have not left, in which case a valid placement must put no two replicas of the
// same tablet on the same rack.
func rackUniquenessRequired(topo topology.Topology, dc string, rf int) bool {
	return len(racksInDC(topo, dc)) >= rf
}

// chooseDestination picks the least-loaded eligible host in dc for a new
// replica of info, tie-breaking by least-loaded shard, honoring rack
// uniqueness when enough racks exist. It returns ok=false if no eligible
// host satisfies the constraints; rackBlocked distinguishes "there were
// candidate hosts but every one violated rack uniqueness" from "there were
// no candidate hosts at all", so callers can raise the right error kind.
func chooseDestination(topo topology.Topology, sketch *LoadSketch, dc string, info tablets.TabletInfo, skip map[tablets.HostID]bool, rf int, rackUniqueness bool) (replica tablets.TabletReplica, ok bool, rackBlocked bool) {
	candidates := eligibleDestinations(topo, dc, info, skip)

	if len(candidates) == 0 {
		return tablets.TabletReplica{}, false, false
	}

	_, byRack := perDCCounts(topo, info)
	requireUnique := rackUniqueness && rackUniquenessRequired(topo, dc, rf)

	var best *topology.Host
	var bestLoad float64

	for i := range candidates {
		h := candidates[i]

		if requireUnique && byRack[dc+"/"+h.Rack] > 0 {
			continue
		}

		load := sketch.AvgShardLoad(h.ID)

		if best == nil || load < bestLoad {
			best = &candidates[i]
			bestLoad = load
		}
	}

	if best == nil {
		return tablets.TabletReplica{}, false, true
	}

	shard := leastLoadedShard(sketch, *best)

	return tablets.TabletReplica{Host: best.ID, Shard: shard}, true, false
}

func leastLoadedShard(sketch *LoadSketch, h topology.Host) tablets.ShardID {
	var best tablets.ShardID
	var bestLoad uint64 = ^uint64(0)

	for s := tablets.ShardID(0); s < tablets.ShardID(h.ShardCount); s++ {
		load := sketch.ShardLoad(h.ID, s)

		if load < bestLoad {
			best = s
			bestLoad = load
		}
	}

	return best
}
