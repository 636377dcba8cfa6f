// Package topology describes the cluster membership view the allocator
// consumes. The real topology log (gossip, the Raft-based group0 log) is
// deliberately out of scope; this package only models the read side of its
// contract.
package topology

import "github.com/jrife/tabletcore/tablets"

// State names a host's lifecycle state as tracked by the topology log.
type State int

const (
	Normal State = iota
	Joining
	BeingDecommissioned
	Left
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Joining:
		return "joining"
	case BeingDecommissioned:
		return "being_decommissioned"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

// Host describes one node's placement-relevant attributes.
type Host struct {
	ID         tablets.HostID
	DC         string
	Rack       string
	State      State
	ShardCount uint32
}

// Topology is a read-only snapshot of cluster membership as seen by the
// allocator and the load sketch. Implementations must be safe for
// concurrent read-only use; the coordinator is the only writer of the
// underlying state and always publishes a fresh snapshot rather than
// mutating one in place.
type Topology interface {
	// Host returns the host with this id, if known.
	Host(id tablets.HostID) (Host, bool)
	// Hosts iterates over every known host. Iteration stops early if fn
	// returns false.
	Hosts(fn func(Host) bool)
	// HostsInDC iterates over every known host in dc.
	HostsInDC(dc string, fn func(Host) bool)
	// DCs returns the set of datacenters with at least one known host.
	DCs() []string
}

// Static is an in-memory Topology backed by a fixed host list, used by
// tests and the standalone demo binary. Production deployments back
// Topology with the real topology log's materialized view instead.
type Static struct {
	hosts map[tablets.HostID]Host
}

// NewStatic builds a Static topology from hosts.
func NewStatic(hosts ...Host) *Static {
	s := &Static{hosts: make(map[tablets.HostID]Host, len(hosts))}

	for _, h := range hosts {
		s.hosts[h.ID] = h
	}

	return s
}

func (s *Static) Host(id tablets.HostID) (Host, bool) {
	h, ok := s.hosts[id]

	return h, ok
}

func (s *Static) Hosts(fn func(Host) bool) {
	for _, h := range s.hosts {
		if !fn(h) {
			return
		}
	}
}

func (s *Static) HostsInDC(dc string, fn func(Host) bool) {
	for _, h := range s.hosts {
		if h.DC != dc {
			continue
		}

		if !fn(h) {
			return
		}
	}
}

func (s *Static) DCs() []string {
	seen := map[string]bool{}
	var dcs []string

	for _, h := range s.hosts {
		if !seen[h.DC] {
			seen[h.DC] = true
			dcs = append(dcs, h.DC)
		}
	}

	return dcs
}

// Set replaces (or adds) a host's entry, for example to simulate a
// decommission or join between balance passes.
func (s *Static) Set(h Host) {
	s.hosts[h.ID] = h
}
