package catalog

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/token"
)

// Read scans the catalog and reconstructs a TabletMetadata. It is the exact
// inverse of Persist for every metadata value Persist can produce.
func (c *Catalog) Read() (*tablets.TabletMetadata, error) {
	tm := tablets.NewTabletMetadata()

	err := c.db.View(func(tx *bolt.Tx) error {
		sidecar := tx.Bucket(sidecarBucket)
		tabletsBkt := tx.Bucket(tabletsBucket)
		singleton := tx.Bucket(singletonBucket)

		counts := map[tablets.TableID]uint64{}

		if err := sidecar.ForEach(func(k, v []byte) error {
			var table tablets.TableID
			copy(table[:], k)
			counts[table] = binary.BigEndian.Uint64(v)

			return nil
		}); err != nil {
			return err
		}

		for table, count := range counts {
			m := tablets.NewTabletMap(count)
			prefix := table[:]
			cur := tabletsBkt.Cursor()

			for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
				_, lastToken, err := decodeRowKey(k)

				if err != nil {
					return err
				}

				r, err := decodeRow(v)

				if err != nil {
					return err
				}

				id := token.TabletOf(lastToken, count)
				m.SetInfo(id, r.Replicas)

				if r.HasTransition {
					m.SetTransition(id, tablets.TabletTransitionInfo{
						Stage:          r.Stage,
						Kind:           r.Kind,
						NextReplicas:   r.NewReplicas,
						PendingReplica: r.PendingReplica,
						SessionID:      r.Session,
					})
				}

				if r.HasResize {
					m.SetResizeDecision(r.Resize)
				}
			}

			tm.SetTabletMap(table, m)
		}

		if v := singleton.Get(singletonKey); v != nil {
			tm.SetBalancingEnabled(len(v) > 0 && v[0] == 1)
		}

		return nil
	})

	if err != nil {
		return nil, wrapIOErr(err, "read failed")
	}

	return tm, nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}

	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}

	return true
}
