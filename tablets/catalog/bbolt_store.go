// Package catalog implements the tablet metadata store (§4.3) and mutation
// builder (§4.4): the system.tablets catalog schema of §6, persisted to a
// local bbolt database. Adapted from the teacher's storage/kv/plugins/bbolt
// driver, but narrowed from a generic multi-store key-value plugin down to
// exactly the three buckets this schema needs, since the generic
// Store/Partition abstraction the teacher built for arbitrary CQL tables
// has no use here.
package catalog

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/jrife/tabletcore/tablets"
)

var (
	tabletsBucket   = []byte("tablets")
	sidecarBucket   = []byte("sidecar")
	singletonBucket = []byte("singleton")
)

// Catalog is a bbolt-backed implementation of the tablets catalog schema.
// It plays the role the teacher's BBoltStore plays for a generic kv store,
// but speaks directly in tablet rows rather than opaque byte ranges.
type Catalog struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a Catalog at path.
func Open(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0666, nil)

	if err != nil {
		return nil, tablets.WrapError(tablets.ErrCatalogIO, err, "could not open catalog at %s", path)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{tabletsBucket, sidecarBucket, singletonBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		db.Close()

		return nil, tablets.WrapError(tablets.ErrCatalogIO, err, "could not initialize catalog buckets at %s", path)
	}

	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	if err := c.db.Close(); err != nil {
		return tablets.WrapError(tablets.ErrCatalogIO, err, "could not close catalog")
	}

	return nil
}

func wrapIOErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	return tablets.WrapError(tablets.ErrCatalogIO, err, fmt.Sprintf(format, args...))
}
