package router

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// EventKind identifies a recorded topology change.
type EventKind string

const (
	EventAddShard    EventKind = "add_shard"
	EventRemoveShard EventKind = "remove_shard"
)

// TopologyEvent is one append-only record of a shard-ring change, so a
// restarted node can rebuild its ring without waiting on a full cluster
// gossip round (§4.E, §9).
type TopologyEvent struct {
	Kind    EventKind `json:"kind"`
	ShardID uint32    `json:"shard_id"`
	Weight  float32   `json:"weight,omitempty"`
}

var topologySeqKey = []byte("topology:seq")

func topologyEventKey(seq uint64) []byte {
	key := make([]byte, len("topology:event:")+8)
	n := copy(key, "topology:event:")
	binary.BigEndian.PutUint64(key[n:], seq)
	return key
}

// TopologyLog persists a Router's shard-topology events to BadgerDB, so
// ring membership survives a process restart. It stores one key per event
// under a monotonically increasing big-endian sequence number, which keeps
// BadgerDB's key-ordered iterator a correct replay order.
type TopologyLog struct {
	db *badger.DB
}

// OpenTopologyLog opens (creating if absent) a BadgerDB-backed topology
// log rooted at dir, with a silenced logger per the house convention of
// disabling BadgerDB's own noisy logging.
func OpenTopologyLog(dir string) (*TopologyLog, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("router: open topology log: %w", err)
	}
	return &TopologyLog{db: db}, nil
}

// Append records ev under the next sequence number.
func (l *TopologyLog) Append(ev TopologyEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("router: marshal topology event: %w", err)
	}

	return l.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn)
		if err != nil {
			return err
		}
		if err := txn.Set(topologyEventKey(seq), data); err != nil {
			return err
		}
		return txn.Set(topologySeqKey, encodeSeq(seq))
	})
}

// Replay returns every recorded event in append order. BadgerDB iterates
// keys in byte order by default, and the big-endian sequence suffix makes
// that order match append order exactly, so no separate sort is needed.
func (l *TopologyLog) Replay() ([]TopologyEvent, error) {
	var events []TopologyEvent
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("topology:event:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var ev TopologyEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("router: replay topology log: %w", err)
	}
	return events, nil
}

// Close releases the underlying BadgerDB handle.
func (l *TopologyLog) Close() error {
	return l.db.Close()
}

func nextSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(topologySeqKey)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		seq = binary.BigEndian.Uint64(val) + 1
		return nil
	})
	return seq, err
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
