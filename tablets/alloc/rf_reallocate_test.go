package alloc_test

import (
	"testing"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/alloc"
	"github.com/jrife/tabletcore/tablets/topology"
)

func TestReallocateTabletsForNewRFUpsizes(t *testing.T) {
	h1, h2 := newHost("dc1", "r1", 4), newHost("dc1", "r2", 4)
	topo := topology.NewStatic(h1, h2)

	m := tablets.NewTabletMap(1)
	m.SetInfo(0, tablets.TabletInfo{{Host: h1.ID, Shard: 0}})

	result, statuses, err := alloc.ReallocateTabletsForNewRF(m, topo, map[string]int{"dc1": 2})

	if err != nil {
		t.Fatalf("ReallocateTabletsForNewRF: %v", err)
	}

	if statuses["dc1"] != alloc.DCSuccess {
		t.Fatalf("dc1 status = %v, want success", statuses["dc1"])
	}

	if len(result.GetInfo(0)) != 2 {
		t.Fatalf("upsized replica count = %d, want 2", len(result.GetInfo(0)))
	}

	if !result.GetInfo(0).HasHost(h2.ID) {
		t.Errorf("expected new replica to land on h2, got %v", result.GetInfo(0))
	}

	if len(m.GetInfo(0)) != 1 {
		t.Fatal("ReallocateTabletsForNewRF must not mutate its input map")
	}
}

func TestReallocateTabletsForNewRFNotEnoughNodes(t *testing.T) {
	h1 := newHost("dc1", "r1", 4)
	topo := topology.NewStatic(h1)

	m := tablets.NewTabletMap(1)
	m.SetInfo(0, tablets.TabletInfo{{Host: h1.ID, Shard: 0}})

	result, statuses, err := alloc.ReallocateTabletsForNewRF(m, topo, map[string]int{"dc1": 3})

	if err != nil {
		t.Fatalf("ReallocateTabletsForNewRF: %v", err)
	}

	if statuses["dc1"] != alloc.DCNotEnoughNodes {
		t.Fatalf("dc1 status = %v, want not_enough_nodes", statuses["dc1"])
	}

	if len(result.GetInfo(0)) != 1 {
		t.Fatalf("a failed DC must leave replicas untouched, got %v", result.GetInfo(0))
	}
}

func TestReallocateTabletsForNewRFDownsizesPreferringOverloadedHost(t *testing.T) {
	overloaded, idle := newHost("dc1", "r1", 4), newHost("dc1", "r2", 4)
	topo := topology.NewStatic(overloaded, idle)

	m := tablets.NewTabletMap(4)

	for id := tablets.TabletID(0); id < 3; id++ {
		m.SetInfo(id, tablets.TabletInfo{{Host: overloaded.ID, Shard: tablets.ShardID(id)}})
	}

	m.SetInfo(3, tablets.TabletInfo{{Host: overloaded.ID, Shard: 3}, {Host: idle.ID, Shard: 0}})

	result, statuses, err := alloc.ReallocateTabletsForNewRF(m, topo, map[string]int{"dc1": 1})

	if err != nil {
		t.Fatalf("ReallocateTabletsForNewRF: %v", err)
	}

	if statuses["dc1"] != alloc.DCSuccess {
		t.Fatalf("dc1 status = %v, want success", statuses["dc1"])
	}

	info := result.GetInfo(3)

	if len(info) != 1 {
		t.Fatalf("downsized replica count = %d, want 1", len(info))
	}

	if info[0].Host != idle.ID {
		t.Errorf("downsize should drop the replica on the more loaded host, kept %v", info)
	}
}
