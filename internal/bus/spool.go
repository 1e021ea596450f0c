// SPDX-License-Identifier: MIT

package bus

import (
	"encoding/binary"
	"encoding/json"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/metrics"
)

// spool is the durable intent log for messages that must survive broker
// outages and restarts. Keys are (unix-nanos, seq) so iteration order is
// enqueue order.
type spool struct {
	db  *badger.DB
	seq atomic.Uint64
}

type spoolEntry struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	QoS     byte   `json:"qos"`
}

func openSpool(path string) (*spool, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fault.Wrap(fault.Fatal, "bus.spool_open", "outbound spool unavailable", err)
	}
	return &spool{db: db}, nil
}

func (s *spool) key() []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(k[8:], s.seq.Add(1))
	return k
}

// put parks one message and returns its key for later deletion.
func (s *spool) put(m Message) ([]byte, error) {
	val, err := json.Marshal(spoolEntry{Topic: m.Topic, Payload: m.Payload, QoS: m.QoS})
	if err != nil {
		return nil, err
	}
	k := s.key()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, val)
	})
	if err != nil {
		return nil, err
	}
	metrics.BusSpoolDepth.Set(float64(s.depth()))
	return k, nil
}

// remove deletes a confirmed message.
func (s *spool) remove(key []byte) {
	if key == nil {
		return
	}
	_ = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	metrics.BusSpoolDepth.Set(float64(s.depth()))
}

// drain replays all parked messages oldest-first. The callback returns
// false to stop early (connection dropped again); delivered entries are
// removed by the caller via the returned key.
func (s *spool) drain(fn func(key []byte, m Message) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			val, err := item.ValueCopy(nil)
			if err != nil {
				continue
			}
			var e spoolEntry
			if err := json.Unmarshal(val, &e); err != nil {
				// Unreadable entries are abandoned, not retried forever.
				continue
			}
			m := Message{Topic: e.Topic, Payload: e.Payload, QoS: e.QoS, Durable: true, spoolKey: key}
			if !fn(key, m) {
				return nil
			}
		}
		return nil
	})
}

func (s *spool) depth() int {
	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

func (s *spool) close() error {
	return s.db.Close()
}
