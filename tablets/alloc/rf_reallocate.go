package alloc

import (
	"sort"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/topology"
)

// DCStatus reports whether a DC's replica sets could be brought to the new
// RF.
type DCStatus int

const (
	// DCSuccess means every tablet's new replica set in this DC satisfies
	// RF and rack constraints.
	DCSuccess DCStatus = iota
	// DCNotEnoughNodes means the DC has fewer live hosts than the target
	// RF; this DC's replicas are left untouched.
	DCNotEnoughNodes
)

func (s DCStatus) String() string {
	switch s {
	case DCSuccess:
		return "success"
	case DCNotEnoughNodes:
		return "not_enough_nodes"
	default:
		return "unknown"
	}
}

// ReallocateTabletsForNewRF computes a new TabletMap with newRF replicas per
// DC, per §4.8. It never mutates m. All DCs reporting DCSuccess are applied
// atomically in the returned map; DCs reporting DCNotEnoughNodes keep their
// existing replicas in the returned map untouched.
func ReallocateTabletsForNewRF(m *tablets.TabletMap, topo topology.Topology, newRF map[string]int) (*tablets.TabletMap, map[string]DCStatus, error) {
	statuses := map[string]DCStatus{}

	for dc, rf := range newRF {
		if liveHostCount(topo, dc) < rf {
			statuses[dc] = DCNotEnoughNodes
		} else {
			statuses[dc] = DCSuccess
		}
	}

	result := m.Clone()

	sketch := NewLoadSketch(topo)
	sketch.PopulateFromMap(m)

	m.Tablets(func(id tablets.TabletID, info tablets.TabletInfo) bool {
		next := info.Clone()

		for dc, rf := range newRF {
			if statuses[dc] != DCSuccess {
				continue
			}

			next = reconcileDC(topo, sketch, next, dc, rf)
		}

		result.SetInfo(id, next)

		return true
	})

	return result, statuses, nil
}

func liveHostCount(topo topology.Topology, dc string) int {
	n := 0

	topo.HostsInDC(dc, func(h topology.Host) bool {
		if h.State == topology.Normal {
			n++
		}

		return true
	})

	return n
}

// reconcileDC adjusts info's replicas in dc to have exactly rf of them,
// upsizing via the same constraint solver §4.6 uses and downsizing via the
// rack-aware preference order of §4.8. sketch is shared across every
// tablet this reallocation pass touches so each decision sees the load
// left behind by the ones made before it, same as the general balancer.
func reconcileDC(topo topology.Topology, sketch *LoadSketch, info tablets.TabletInfo, dc string, rf int) tablets.TabletInfo {
	current := replicasInDC(topo, info, dc)

	if len(current) == rf {
		return info
	}

	if len(current) < rf {
		return upsizeDC(topo, sketch, info, dc, rf-len(current))
	}

	return downsizeDC(topo, sketch, info, dc, len(current)-rf)
}

func replicasInDC(topo topology.Topology, info tablets.TabletInfo, dc string) tablets.TabletInfo {
	var out tablets.TabletInfo

	for _, r := range info {
		if h, ok := topo.Host(r.Host); ok && h.DC == dc {
			out = append(out, r)
		}
	}

	return out
}

func upsizeDC(topo topology.Topology, sketch *LoadSketch, info tablets.TabletInfo, dc string, n int) tablets.TabletInfo {
	next := info.Clone()

	for i := 0; i < n; i++ {
		rf := len(replicasInDC(topo, next, dc)) + 1
		dst, ok, _ := chooseDestination(topo, sketch, dc, next, nil, rf, true)

		if !ok {
			break
		}

		sketch.Add(dst)
		next = append(next, dst)
	}

	return next
}

// downsizeDC removes n replicas from dc, preferring to drop those on the
// most-overloaded host first, then those on the rack with the most
// replicas of this table's DC, breaking remaining ties by host id for
// determinism.
func downsizeDC(topo topology.Topology, sketch *LoadSketch, info tablets.TabletInfo, dc string, n int) tablets.TabletInfo {
	_, byRack := perDCCounts(topo, info)

	candidates := replicasInDC(topo, info, dc)

	sort.Slice(candidates, func(i, j int) bool {
		hi, _ := topo.Host(candidates[i].Host)
		hj, _ := topo.Host(candidates[j].Host)

		li, lj := sketch.AvgShardLoad(candidates[i].Host), sketch.AvgShardLoad(candidates[j].Host)

		if li != lj {
			return li > lj
		}

		ri := byRack[hi.DC+"/"+hi.Rack]
		rj := byRack[hj.DC+"/"+hj.Rack]

		if ri != rj {
			return ri > rj
		}

		return candidates[i].Host.String() < candidates[j].Host.String()
	})

	remove := map[tablets.TabletReplica]bool{}

	for i := 0; i < n && i < len(candidates); i++ {
		remove[candidates[i]] = true
		sketch.Remove(candidates[i])
	}

	var next tablets.TabletInfo

	for _, r := range info {
		if !remove[r] {
			next = append(next, r)
		}
	}

	return next
}
