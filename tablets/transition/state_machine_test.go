package transition_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/streaming"
	"github.com/jrife/tabletcore/tablets/transition"
)

func TestNextStageIsLinear(t *testing.T) {
	want := []tablets.Stage{
		tablets.StageAllowWriteBothReadOld,
		tablets.StageWriteBothReadOld,
		tablets.StageStreaming,
		tablets.StageWriteBothReadNew,
		tablets.StageUseNew,
		tablets.StageCleanup,
		tablets.StageEndMigration,
	}

	for i := 0; i < len(want)-1; i++ {
		got, err := transition.NextStage(tablets.Migration, want[i])

		if err != nil {
			t.Fatalf("NextStage(%v): unexpected error: %v", want[i], err)
		}

		if got != want[i+1] {
			t.Errorf("NextStage(%v) = %v, want %v", want[i], got, want[i+1])
		}
	}

	if _, err := transition.NextStage(tablets.Migration, tablets.StageEndMigration); err == nil {
		t.Error("expected an error advancing past end_migration")
	}
}

func TestCanRollbackOnlyBeforeReadSwitch(t *testing.T) {
	cases := []struct {
		stage tablets.Stage
		want  bool
	}{
		{tablets.StageAllowWriteBothReadOld, true},
		{tablets.StageWriteBothReadOld, true},
		{tablets.StageStreaming, true},
		{tablets.StageWriteBothReadNew, false},
		{tablets.StageUseNew, false},
		{tablets.StageCleanup, false},
		{tablets.StageEndMigration, false},
	}

	for _, c := range cases {
		if got := transition.CanRollback(c.stage); got != c.want {
			t.Errorf("CanRollback(%v) = %v, want %v", c.stage, got, c.want)
		}
	}
}

func TestValidateNewTransitionMigration(t *testing.T) {
	h1, h2 := uuid.New(), uuid.New()
	current := tablets.TabletInfo{{Host: h1, Shard: 0}}

	valid := tablets.TabletTransitionInfo{
		Kind:           tablets.Migration,
		NextReplicas:   tablets.TabletInfo{{Host: h2, Shard: 0}},
		PendingReplica: tablets.TabletReplica{Host: h2, Shard: 0},
	}

	if err := transition.ValidateNewTransition(current, valid); err != nil {
		t.Fatalf("expected valid migration transition, got error: %v", err)
	}

	invalid := valid
	invalid.PendingReplica = tablets.TabletReplica{Host: uuid.New(), Shard: 0}

	if err := transition.ValidateNewTransition(current, invalid); err == nil {
		t.Fatal("expected error when pending_replica is not in next_replicas")
	}
}

func TestValidateNewTransitionRebuildRejectsRemoval(t *testing.T) {
	h1, h2 := uuid.New(), uuid.New()
	current := tablets.TabletInfo{{Host: h1, Shard: 0}}

	info := tablets.TabletTransitionInfo{
		Kind:           tablets.Rebuild,
		NextReplicas:   tablets.TabletInfo{{Host: h2, Shard: 0}},
		PendingReplica: tablets.TabletReplica{Host: h2, Shard: 0},
	}

	if err := transition.ValidateNewTransition(current, info); err == nil {
		t.Fatal("expected rebuild that drops a replica to be rejected")
	}
}

type fakeStreamer struct {
	failures int
	calls    int
}

func (f *fakeStreamer) Start(ctx context.Context, session streaming.SessionID, src, dst tablets.TabletReplica, r streaming.Range) error {
	f.calls++

	if f.calls <= f.failures {
		return errors.New("stream reset by peer")
	}

	return nil
}

func TestDriverDrivesMigrationToEndMigration(t *testing.T) {
	h1, h2 := uuid.New(), uuid.New()
	m := tablets.NewTabletMap(1)
	m.SetInfo(0, tablets.TabletInfo{{Host: h1, Shard: 0}})
	m.SetTransition(0, tablets.TabletTransitionInfo{
		Stage:          tablets.StageAllowWriteBothReadOld,
		Kind:           tablets.Migration,
		NextReplicas:   tablets.TabletInfo{{Host: h2, Shard: 0}},
		PendingReplica: tablets.TabletReplica{Host: h2, Shard: 0},
	})

	var commits int
	driver := transition.Driver{Streamer: streaming.NopStreamer{}, MaxStreamingRetries: 3}

	err := driver.Drive(context.Background(), m, 0, tablets.TabletReplica{Host: h1, Shard: 0}, func(ctx context.Context, id tablets.TabletID, info *tablets.TabletTransitionInfo) error {
		commits++
		return nil
	})

	if err != nil {
		t.Fatalf("Drive returned error: %v", err)
	}

	if _, ok := m.GetTransition(0); ok {
		t.Fatal("expected transition to be cleared after end_migration")
	}

	if diff := m.GetInfo(0); len(diff) != 1 || diff[0].Host != h2 {
		t.Fatalf("expected tablet replicas to become next_replicas, got %v", diff)
	}

	if commits == 0 {
		t.Fatal("expected at least one commit callback")
	}
}

func TestDriverRetriesStreamingFailureThenFails(t *testing.T) {
	h1, h2 := uuid.New(), uuid.New()
	m := tablets.NewTabletMap(1)
	m.SetInfo(0, tablets.TabletInfo{{Host: h1, Shard: 0}})
	m.SetTransition(0, tablets.TabletTransitionInfo{
		Stage:          tablets.StageAllowWriteBothReadOld,
		Kind:           tablets.Migration,
		NextReplicas:   tablets.TabletInfo{{Host: h2, Shard: 0}},
		PendingReplica: tablets.TabletReplica{Host: h2, Shard: 0},
	})

	streamer := &fakeStreamer{failures: 10}
	driver := transition.Driver{Streamer: streamer, MaxStreamingRetries: 2}

	err := driver.Drive(context.Background(), m, 0, tablets.TabletReplica{Host: h1, Shard: 0}, func(ctx context.Context, id tablets.TabletID, info *tablets.TabletTransitionInfo) error {
		return nil
	})

	kind, ok := tablets.KindOf(err)

	if !ok || kind != tablets.ErrStreamingFailure {
		t.Fatalf("expected a streaming_failure error, got %v", err)
	}

	info, ok := m.GetTransition(0)

	if !ok {
		t.Fatal("expected the transition to remain in place for a later retry")
	}

	if info.Stage != tablets.StageStreaming {
		t.Fatalf("expected transition to remain at streaming, got %v", info.Stage)
	}
}

func TestIntranodeMigrationNeverStreams(t *testing.T) {
	h1 := uuid.New()
	m := tablets.NewTabletMap(1)
	m.SetInfo(0, tablets.TabletInfo{{Host: h1, Shard: 0}})
	m.SetTransition(0, tablets.TabletTransitionInfo{
		Stage:          tablets.StageAllowWriteBothReadOld,
		Kind:           tablets.IntranodeMigration,
		NextReplicas:   tablets.TabletInfo{{Host: h1, Shard: 1}},
		PendingReplica: tablets.TabletReplica{Host: h1, Shard: 1},
	})

	streamer := &fakeStreamer{failures: 100}
	driver := transition.Driver{Streamer: streamer, MaxStreamingRetries: 0}

	err := driver.Drive(context.Background(), m, 0, tablets.TabletReplica{Host: h1, Shard: 0}, func(ctx context.Context, id tablets.TabletID, info *tablets.TabletTransitionInfo) error {
		return nil
	})

	if err != nil {
		t.Fatalf("expected intranode migration to succeed without streaming, got: %v", err)
	}

	if streamer.calls != 0 {
		t.Fatalf("expected streamer to never be called for an intranode migration, got %d calls", streamer.calls)
	}
}
