package catalog

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/token"
)

// Persist writes tm to the catalog as one atomic batch, timestamped ts.
// Reading the catalog at any ts' >= ts afterward reconstructs exactly tm
// (§4.3's round-trip law). The whole write happens inside a single bbolt
// transaction, giving the same "never observe a half-applied update"
// guarantee §4.4 asks of the mutation builder.
func (c *Catalog) Persist(tm *tablets.TabletMetadata, ts int64) error {
	return wrapIOErr(c.db.Update(func(tx *bolt.Tx) error {
		tablets_ := tx.Bucket(tabletsBucket)
		sidecar := tx.Bucket(sidecarBucket)
		singleton := tx.Bucket(singletonBucket)

		if err := clearBucket(tablets_); err != nil {
			return err
		}

		if err := clearBucket(sidecar); err != nil {
			return err
		}

		var writeErr error

		tm.Tables(func(table tablets.TableID, m *tablets.TabletMap) bool {
			if writeErr = writeTabletMap(tablets_, sidecar, table, m, ts); writeErr != nil {
				return false
			}

			return true
		})

		if writeErr != nil {
			return writeErr
		}

		balancingByte := byte(0)

		if tm.BalancingEnabled() {
			balancingByte = 1
		}

		return singleton.Put(singletonKey, []byte{balancingByte})
	}), "persist failed")
}

func clearBucket(b *bolt.Bucket) error {
	c := b.Cursor()

	var keys [][]byte

	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte{}, k...))
	}

	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}

	return nil
}

func writeTabletMap(tabletsBkt, sidecarBkt *bolt.Bucket, table tablets.TableID, m *tablets.TabletMap, ts int64) error {
	var countBuf [8]byte
	binary.BigEndian.PutUint64(countBuf[:], m.Count())

	if err := sidecarBkt.Put(encodeSidecarKey(table), countBuf[:]); err != nil {
		return err
	}

	var rowErr error

	m.Tablets(func(id token.TabletID, info tablets.TabletInfo) bool {
		lastToken := m.GetLastToken(id)

		r := row{Replicas: info, Timestamp: ts}

		if transition, ok := m.GetTransition(id); ok {
			r.HasTransition = true
			r.NewReplicas = transition.NextReplicas
			r.Stage = transition.Stage
			r.Kind = transition.Kind
			r.PendingReplica = transition.PendingReplica
			r.Session = transition.SessionID
		}

		if lastToken == token.MaxToken {
			r.HasResize = true
			r.Resize = m.ResizeDecision()
		}

		if rowErr = tabletsBkt.Put(encodeRowKey(table, lastToken), encodeRow(r)); rowErr != nil {
			return false
		}

		return true
	})

	return rowErr
}

// Apply applies one incremental Mutation produced by a MutationBuilder to
// the row it names, merging it with whatever is already there. This is the
// path the coordinator uses for per-stage-transition commits, as opposed
// to Persist's full-metadata overwrite. A mutation whose Timestamp does not
// strictly advance the row's stored timestamp is rejected as a concurrent
// modification rather than silently applied out of order.
func (c *Catalog) Apply(mu Mutation) error {
	var concurrentErr error

	err := c.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(tabletsBucket)
		key := encodeRowKey(mu.Table, mu.LastToken)

		var r row

		if existing := bkt.Get(key); existing != nil {
			decoded, err := decodeRow(existing)

			if err != nil {
				return err
			}

			r = decoded

			if mu.Timestamp <= r.Timestamp {
				concurrentErr = tablets.NewError(tablets.ErrConcurrentModification, "mutation timestamp %d did not advance row timestamp %d for table %s", mu.Timestamp, r.Timestamp, mu.Table)

				return nil
			}
		}

		r.Timestamp = mu.Timestamp

		if mu.Replicas != nil {
			r.Replicas = *mu.Replicas
		}

		if mu.DelTransition {
			r.HasTransition = false
			r.NewReplicas = nil
			r.Stage = 0
			r.Kind = 0
			r.PendingReplica = tablets.TabletReplica{}
			r.Session = nil
		} else {
			if mu.NewReplicas != nil {
				r.HasTransition = true
				r.NewReplicas = *mu.NewReplicas
			}

			if mu.Kind != nil {
				r.HasTransition = true
				r.Kind = *mu.Kind
			}

			if mu.PendingReplica != nil {
				r.HasTransition = true
				r.PendingReplica = *mu.PendingReplica
			}

			if mu.Stage != nil {
				r.HasTransition = true
				r.Stage = *mu.Stage
			}

			if mu.Session != nil {
				r.Session = mu.Session
			}
		}

		if mu.ResizeDecision != nil {
			r.HasResize = true
			r.Resize = *mu.ResizeDecision
		}

		return bkt.Put(key, encodeRow(r))
	})

	if err != nil {
		return wrapIOErr(err, "apply mutation failed for table %s", mu.Table)
	}

	return concurrentErr
}
