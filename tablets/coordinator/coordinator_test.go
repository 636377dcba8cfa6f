package coordinator_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/alloc"
	"github.com/jrife/tabletcore/tablets/catalog"
	"github.com/jrife/tabletcore/tablets/coordinator"
	"github.com/jrife/tabletcore/tablets/topology"
)

func tempCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	c, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))

	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { c.Close() })

	return c
}

func newHost(dc, rack string, shards uint32) topology.Host {
	return topology.Host{ID: uuid.New(), DC: dc, Rack: rack, State: topology.Normal, ShardCount: shards}
}

// TestBalanceAndCommitStartsTransitions seeds a cluster with one overloaded
// host, runs one balance cycle through the coordinator, and checks the
// proposed migrations landed in the catalog as started transitions - not
// just as an in-memory plan.
func TestBalanceAndCommitStartsTransitions(t *testing.T) {
	hot := newHost("dc1", "r1", 4)
	idle1 := newHost("dc1", "r2", 4)
	idle2 := newHost("dc1", "r3", 4)
	topo := topology.NewStatic(hot, idle1, idle2)

	c := tempCatalog(t)

	seed := tablets.NewTabletMetadata()
	m := tablets.NewTabletMap(4)

	for id := tablets.TabletID(0); id < 4; id++ {
		m.SetInfo(id, tablets.TabletInfo{{Host: hot.ID, Shard: tablets.ShardID(id % 4)}})
	}

	table := uuid.New()
	seed.SetTabletMap(table, m)

	if err := c.Persist(seed, 1); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	co := &coordinator.Coordinator{
		Catalog:   c,
		Guard:     coordinator.NewLocalGuard(),
		Allocator: &alloc.Allocator{},
	}

	plan, _, err := co.BalanceAndCommit(context.Background(), topo, nil, nil)

	if err != nil {
		t.Fatalf("BalanceAndCommit: %v", err)
	}

	if len(plan) == 0 {
		t.Fatal("expected at least one migration off the overloaded host")
	}

	got, err := c.Read()

	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	gotMap := got.GetTabletMap(table)

	for _, mig := range plan {
		transition, ok := gotMap.GetTransition(mig.Tablet)

		if !ok {
			t.Fatalf("tablet %d: expected a transition after commit", mig.Tablet)
		}

		if transition.Stage != tablets.StageAllowWriteBothReadOld {
			t.Errorf("tablet %d: stage = %v, want allow_write_both_read_old", mig.Tablet, transition.Stage)
		}

		if !transition.PendingReplica.Equal(mig.Dst) {
			t.Errorf("tablet %d: pending replica = %v, want %v", mig.Tablet, transition.PendingReplica, mig.Dst)
		}
	}
}

// TestDriveTransitionReachesEndMigration runs one tablet's transition to
// completion through the coordinator and checks the catalog ends up with
// no transition and the new replica set in place.
func TestDriveTransitionReachesEndMigration(t *testing.T) {
	src := newHost("dc1", "r1", 4)
	dst := newHost("dc1", "r2", 4)

	c := tempCatalog(t)

	seed := tablets.NewTabletMetadata()
	m := tablets.NewTabletMap(1)
	srcReplica := tablets.TabletReplica{Host: src.ID, Shard: 0}
	dstReplica := tablets.TabletReplica{Host: dst.ID, Shard: 0}
	m.SetInfo(0, tablets.TabletInfo{srcReplica})
	m.SetTransition(0, tablets.TabletTransitionInfo{
		Stage:          tablets.StageAllowWriteBothReadOld,
		Kind:           tablets.Migration,
		NextReplicas:   tablets.TabletInfo{dstReplica},
		PendingReplica: dstReplica,
	})

	table := uuid.New()
	seed.SetTabletMap(table, m)

	if err := c.Persist(seed, 1); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	co := &coordinator.Coordinator{
		Catalog: c,
		Guard:   coordinator.NewLocalGuard(),
	}

	if err := co.DriveTransition(context.Background(), table, 0, srcReplica, nil); err != nil {
		t.Fatalf("DriveTransition: %v", err)
	}

	got, err := c.Read()

	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	gotMap := got.GetTabletMap(table)

	if _, ok := gotMap.GetTransition(0); ok {
		t.Fatal("expected transition to be gone after reaching end_migration")
	}

	if !gotMap.GetInfo(0).HasHost(dst.ID) {
		t.Errorf("expected tablet to land on dst, got %v", gotMap.GetInfo(0))
	}

	if gotMap.GetInfo(0).HasHost(src.ID) {
		t.Errorf("expected src replica to be gone, got %v", gotMap.GetInfo(0))
	}
}

// TestAlterTabletsKeyspaceReturnsStubThroughGuard checks that
// AlterTabletsKeyspace still exercises the guard before returning its TODO
// sentinel, so guard acquisition is real even though the request body is
// not.
func TestAlterTabletsKeyspaceReturnsStubThroughGuard(t *testing.T) {
	guard := coordinator.NewLocalGuard()
	co := &coordinator.Coordinator{Guard: guard}

	err := co.AlterTabletsKeyspace(context.Background())

	if err != coordinator.ErrAlterTabletsKeyspaceUnspecified {
		t.Fatalf("AlterTabletsKeyspace error = %v, want the unspecified sentinel", err)
	}

	// The guard must have been released, not left held: a fresh Lock call
	// must succeed immediately rather than block.
	if err := guard.Lock(context.Background()); err != nil {
		t.Fatalf("expected guard to be free after AlterTabletsKeyspace returned, Lock: %v", err)
	}
}
