package alloc

import (
	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/loadstats"
)

// Config tunes the resize control loop. Zero-value Config falls back to
// DefaultConfig's numbers via targetTabletSize/mergeThreshold,
// so an Allocator{} is usable without an explicit config.
type Config struct {
	// TargetTabletSize is the per-table configured target tablet size in
	// bytes. A table at or above this average tablet size is split.
	TargetTabletSize uint64
	// MergeThresholdRatio is the fraction of TargetTabletSize below which
	// a table's tablets are merged. Defaults to 0.25 (target/4).
	MergeThresholdRatio float64
	// DisableRackUniqueness turns off the rack-uniqueness placement rule
	// even when a DC has enough distinct racks to enforce it. Clusters
	// too small to spread replicas across racks can set this rather than
	// have the allocator refuse to place anything.
	DisableRackUniqueness bool
}

func (c Config) rackUniqueness() bool {
	return !c.DisableRackUniqueness
}

// DefaultConfig returns the allocator's built-in tuning: a 5 GiB target
// tablet size and a target/4 merge threshold.
func DefaultConfig() Config {
	return Config{TargetTabletSize: 5 << 30, MergeThresholdRatio: 0.25}
}

func (c Config) targetTabletSize() uint64 {
	if c.TargetTabletSize == 0 {
		return DefaultConfig().TargetTabletSize
	}

	return c.TargetTabletSize
}

func (c Config) mergeThreshold() uint64 {
	ratio := c.MergeThresholdRatio

	if ratio == 0 {
		ratio = DefaultConfig().MergeThresholdRatio
	}

	return uint64(float64(c.targetTabletSize()) * ratio)
}

// ResizePlan is the per-table resize output of one balance pass: tables
// whose resize decision changed, and tables ready to finalize (double their
// tablet count now that every replica has confirmed readiness).
type ResizePlan struct {
	Decisions map[tablets.TableID]tablets.ResizeDecision
	Finalize  []tablets.TableID
}

// planResize implements the resize control loop of §4.6: for each table
// with reported load statistics, decide whether to start, cancel, or
// finalize a split/merge.
func (a *Allocator) planResize(tm *tablets.TabletMetadata, stats loadstats.Stats) ResizePlan {
	plan := ResizePlan{Decisions: map[tablets.TableID]tablets.ResizeDecision{}}

	tm.Tables(func(table tablets.TableID, m *tablets.TabletMap) bool {
		st, ok := stats.Get(table)

		if !ok || m.Count() == 0 {
			return true
		}

		avg := st.SizeInBytes / m.Count()
		current := m.ResizeDecision()

		desired := tablets.ResizeNone

		switch {
		case avg >= a.Config.targetTabletSize():
			desired = tablets.ResizeSplit
		case avg < a.Config.mergeThreshold():
			desired = tablets.ResizeMerge
		}

		if desired == tablets.ResizeSplit && current.Way == tablets.ResizeSplit {
			inFlight := false

			m.Transitions(func(tablets.TabletID, tablets.TabletTransitionInfo) bool {
				inFlight = true

				return false
			})

			if !inFlight && st.SplitReadySeqNumber >= current.SequenceNumber {
				plan.Finalize = append(plan.Finalize, table)
			}

			return true
		}

		if desired != current.Way {
			plan.Decisions[table] = tablets.ResizeDecision{Way: desired, SequenceNumber: current.SequenceNumber + 1}
		}

		return true
	})

	return plan
}

// ApplyFinalize performs the tablet-count doubling a finalized split
// commits: m.Split() plus resetting the resize decision to none, per §4.6
// ("resize decision resets to none").
func ApplyFinalize(m *tablets.TabletMap) *tablets.TabletMap {
	split := m.Split()
	split.SetResizeDecision(tablets.ResizeDecision{Way: tablets.ResizeNone, SequenceNumber: m.ResizeDecision().SequenceNumber + 1})

	return split
}
