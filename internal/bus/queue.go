// SPDX-License-Identifier: MIT

package bus

import (
	"sync"

	"github.com/consultease/central/internal/metrics"
)

// Message is one outbound publish. Durable messages are parked in the
// spool before they enter the queue and removed after confirmed publish.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte

	// Durable marks a message that must survive broker outages and
	// process restarts (consultation dispatches).
	Durable  bool
	spoolKey []byte
}

// queue is the bounded MPSC outbound buffer. Many producers enqueue;
// the single connection worker drains. On overflow the oldest pending
// message is dropped so fresh state always wins.
type queue struct {
	mu    sync.Mutex
	buf   []Message
	cap   int
	drops uint64

	// wake carries at most one pending signal for the drainer.
	wake chan struct{}
}

func newQueue(capacity int) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{
		cap:  capacity,
		wake: make(chan struct{}, 1),
	}
}

// push appends a message, evicting the oldest on overflow. It never
// blocks the producer.
func (q *queue) push(m Message) {
	q.mu.Lock()
	if len(q.buf) >= q.cap {
		dropped := q.buf[0]
		q.buf = q.buf[1:]
		q.drops++
		metrics.IncBusDrop("queue_full")
		_ = dropped
	}
	q.buf = append(q.buf, m)
	depth := len(q.buf)
	q.mu.Unlock()

	metrics.BusQueueDepth.Set(float64(depth))
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// takeBatch removes up to n messages, oldest first.
func (q *queue) takeBatch(n int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil
	}
	if n > len(q.buf) {
		n = len(q.buf)
	}
	batch := make([]Message, n)
	copy(batch, q.buf[:n])
	q.buf = q.buf[n:]
	metrics.BusQueueDepth.Set(float64(len(q.buf)))
	return batch
}

// requeueFront puts messages back at the head after a failed flush so
// per-topic ordering is preserved on retry.
func (q *queue) requeueFront(batch []Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(batch, q.buf...)
	if len(q.buf) > q.cap {
		over := len(q.buf) - q.cap
		q.buf = q.buf[over:]
		q.drops += uint64(over)
		for i := 0; i < over; i++ {
			metrics.IncBusDrop("queue_full")
		}
	}
	metrics.BusQueueDepth.Set(float64(len(q.buf)))
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *queue) dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}
