// Package loadstats models the per-table size feed that drives the
// allocator's resize control loop. The real feed is populated by each
// replica reporting its on-disk tablet sizes; that collection pipeline is
// out of scope here, only its resulting contract is.
package loadstats

import "github.com/jrife/tabletcore/tablets"

// TableStats is one table's aggregate size and split readiness, as
// reported by its replicas.
type TableStats struct {
	// SizeInBytes is the total on-disk size of the table across all its
	// tablets.
	SizeInBytes uint64
	// SplitReadySeqNumber is the highest resize sequence number that
	// every replica has confirmed it is ready to finalize a split for.
	SplitReadySeqNumber uint64
}

// Stats is an optional, per-table load-statistics feed. A nil Stats (or a
// missing table entry) means the allocator makes no resize decision for
// that table this pass.
type Stats map[tables]TableStats

type tables = tablets.TableID

// Get returns the stats for table, if reported.
func (s Stats) Get(table tablets.TableID) (TableStats, bool) {
	if s == nil {
		return TableStats{}, false
	}

	st, ok := s[table]

	return st, ok
}
