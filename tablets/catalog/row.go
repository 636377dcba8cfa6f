package catalog

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/token"
)

// row is the decoded form of one tablets-table catalog row, matching the
// columns of §6: replicas, new_replicas, stage, transition and session are
// per tablet, while resize_type and resize_seq_number are only ever
// populated on the max_token row of a table, per the schema note.
type row struct {
	Replicas       tablets.TabletInfo
	NewReplicas    tablets.TabletInfo
	HasTransition  bool
	Stage          tablets.Stage
	Kind           tablets.Kind
	PendingReplica tablets.TabletReplica
	Session        *uuid.UUID
	HasResize      bool
	Resize         tablets.ResizeDecision
	Timestamp      int64
}

// encodeRowKey builds the (table_id, last_token) catalog row key: a 16-byte
// UUID followed by the big-endian encoding of last_token, matching the
// teacher's keys.Int64ToKey convention for ordered integer keys.
func encodeRowKey(table tablets.TableID, lastToken token.Token) []byte {
	key := make([]byte, 24)
	copy(key[:16], table[:])
	binary.BigEndian.PutUint64(key[16:], uint64(lastToken))

	return key
}

func decodeRowKey(key []byte) (tablets.TableID, token.Token, error) {
	if len(key) != 24 {
		return tablets.TableID{}, 0, fmt.Errorf("catalog: malformed row key of length %d", len(key))
	}

	var table tablets.TableID
	copy(table[:], key[:16])

	return table, token.Token(binary.BigEndian.Uint64(key[16:])), nil
}

// encodeSidecarKey builds the per-table sidecar key that carries the
// tablet count. The spec places this at last_token = min_token-1, but that
// underflows a signed 64-bit token; this catalog keeps sidecar rows in
// their own bucket instead, keyed only by table id, which preserves the
// "one extra row per table" shape without relying on undefined arithmetic.
func encodeSidecarKey(table tablets.TableID) []byte {
	key := make([]byte, 16)
	copy(key, table[:])

	return key
}

// singletonKey is the fixed key for the table-independent balancing_enabled
// row.
var singletonKey = []byte("balancing_enabled")

func encodeReplicaList(replicas tablets.TabletInfo) []byte {
	buf := make([]byte, 4, 4+len(replicas)*20)
	binary.BigEndian.PutUint32(buf, uint32(len(replicas)))

	for _, r := range replicas {
		buf = append(buf, r.Host[:]...)
		var shard [4]byte
		binary.BigEndian.PutUint32(shard[:], uint32(r.Shard))
		buf = append(buf, shard[:]...)
	}

	return buf
}

func decodeReplicaList(b []byte) (tablets.TabletInfo, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("catalog: truncated replica list")
	}

	n := binary.BigEndian.Uint32(b)
	b = b[4:]

	if n == 0 {
		return nil, b, nil
	}

	replicas := make(tablets.TabletInfo, 0, n)

	for i := uint32(0); i < n; i++ {
		if len(b) < 20 {
			return nil, nil, fmt.Errorf("catalog: truncated replica entry")
		}

		var r tablets.TabletReplica
		copy(r.Host[:], b[:16])
		r.Shard = tablets.ShardID(binary.BigEndian.Uint32(b[16:20]))
		replicas = append(replicas, r)
		b = b[20:]
	}

	return replicas, b, nil
}

// encodeRow marshals r into the byte layout stored as the bbolt value for
// one tablets-table row. Fields that aren't present (no transition, no
// resize decision on this row) are flagged rather than zero-valued so
// decodeRow can tell "absent" from "zero".
func encodeRow(r row) []byte {
	buf := make([]byte, 0, 128)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(r.Timestamp))
	buf = append(buf, tsBuf[:]...)

	buf = append(buf, encodeReplicaList(r.Replicas)...)

	if r.HasTransition {
		buf = append(buf, 1)
		buf = append(buf, encodeReplicaList(r.NewReplicas)...)
		buf = append(buf, byte(r.Stage), byte(r.Kind))
		buf = append(buf, r.PendingReplica.Host[:]...)

		var shardBuf [4]byte
		binary.BigEndian.PutUint32(shardBuf[:], uint32(r.PendingReplica.Shard))
		buf = append(buf, shardBuf[:]...)

		if r.Session != nil {
			buf = append(buf, 1)
			buf = append(buf, r.Session[:]...)
		} else {
			buf = append(buf, 0)
		}
	} else {
		buf = append(buf, 0)
	}

	if r.HasResize {
		buf = append(buf, 1, byte(r.Resize.Way))

		var seqBuf [8]byte
		binary.BigEndian.PutUint64(seqBuf[:], r.Resize.SequenceNumber)
		buf = append(buf, seqBuf[:]...)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

func decodeRow(b []byte) (row, error) {
	var r row

	if len(b) < 8 {
		return r, fmt.Errorf("catalog: truncated row")
	}

	r.Timestamp = int64(binary.BigEndian.Uint64(b[:8]))
	b = b[8:]

	replicas, rest, err := decodeReplicaList(b)

	if err != nil {
		return row{}, err
	}

	r.Replicas = replicas
	b = rest

	if len(b) < 1 {
		return row{}, fmt.Errorf("catalog: truncated row, missing transition flag")
	}

	hasTransition := b[0] == 1
	b = b[1:]

	if hasTransition {
		r.HasTransition = true

		newReplicas, rest, err := decodeReplicaList(b)

		if err != nil {
			return row{}, err
		}

		r.NewReplicas = newReplicas
		b = rest

		if len(b) < 2+16+4+1 {
			return row{}, fmt.Errorf("catalog: truncated transition fields")
		}

		r.Stage = tablets.Stage(b[0])
		r.Kind = tablets.Kind(b[1])
		b = b[2:]

		copy(r.PendingReplica.Host[:], b[:16])
		r.PendingReplica.Shard = tablets.ShardID(binary.BigEndian.Uint32(b[16:20]))
		b = b[20:]

		if b[0] == 1 {
			b = b[1:]

			if len(b) < 16 {
				return row{}, fmt.Errorf("catalog: truncated session id")
			}

			var session uuid.UUID
			copy(session[:], b[:16])
			r.Session = &session
			b = b[16:]
		} else {
			b = b[1:]
		}
	}

	if len(b) < 1 {
		return row{}, fmt.Errorf("catalog: truncated row, missing resize flag")
	}

	if b[0] == 1 {
		if len(b) < 1+1+8 {
			return row{}, fmt.Errorf("catalog: truncated resize decision")
		}

		r.HasResize = true
		r.Resize.Way = tablets.ResizeWay(b[1])
		r.Resize.SequenceNumber = binary.BigEndian.Uint64(b[2:10])
	}

	return r, nil
}
