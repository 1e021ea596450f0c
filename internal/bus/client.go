// SPDX-License-Identifier: MIT

// Package bus maintains the logical connection to the MQTT broker: one
// bounded outbound queue drained by a single connection worker, handler
// fan-in for subscriptions, reconnect with capped exponential backoff,
// and a durable spool for messages that must survive outages.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/fault"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/metrics"
)

const (
	inboundWorkers = 4
	inboundBuffer  = 256
	reconnectBase  = time.Second
)

// Handler consumes one inbound message. Handlers run on a shared worker
// pool and must not block; offload anything slow.
type Handler func(topic string, payload []byte)

// Stats is a point-in-time snapshot of link health.
type Stats struct {
	Published     uint64
	Received      uint64
	PublishErrors uint64
	Dropped       uint64
	QueueDepth    int
	SpoolDepth    int
	LastError     string
	LastPing      time.Time
	Connected     bool
}

type subscription struct {
	pattern string
	qos     byte
	fn      Handler
}

type inboundMsg struct {
	fn      Handler
	topic   string
	payload []byte
}

// Client is the broker link. Construct with New, wire subscriptions,
// then drive it with Run.
type Client struct {
	cfg    config.BrokerSettings
	logger zerolog.Logger
	link   link
	q      *queue
	spool  *spool

	mu   sync.Mutex
	subs []subscription

	inbound   chan inboundMsg
	lost      chan struct{}
	connected atomic.Bool

	published     atomic.Uint64
	received      atomic.Uint64
	publishErrors atomic.Uint64

	lastMu    sync.Mutex
	lastError string
	lastPing  time.Time
}

// Option customizes a Client; used by tests to swap the broker link.
type Option func(*Client)

// WithLink replaces the paho link with a custom implementation.
func WithLink(l link) Option {
	return func(c *Client) { c.link = l }
}

// New builds the client and opens the durable spool. No connection is
// attempted until Run.
func New(cfg config.BrokerSettings, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		logger:  log.WithComponent("bus"),
		q:       newQueue(cfg.QueueSize),
		inbound: make(chan inboundMsg, inboundBuffer),
		lost:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.link == nil {
		c.link = newPahoLink(cfg, c.onConnectionLost)
	}

	sp, err := openSpool(cfg.SpoolPath)
	if err != nil {
		return nil, err
	}
	c.spool = sp
	metrics.BusSpoolDepth.Set(float64(sp.depth()))
	return c, nil
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)
	metrics.BusConnected.Set(0)
	c.setLastError(err)
	c.logger.Warn().Err(err).Str("event", "bus.connection_lost").Msg("broker connection lost")
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

// Publish enqueues one message. It never blocks; on queue overflow the
// oldest pending message is dropped and the drop counter increments.
func (c *Client) Publish(topic string, payload []byte, qos byte) {
	c.q.push(Message{Topic: topic, Payload: payload, QoS: qos})
}

// PublishDurable parks the message in the spool before enqueueing so it
// survives broker outages and restarts. The spool entry is removed once
// the broker confirms the publish.
func (c *Client) PublishDurable(topic string, payload []byte, qos byte) error {
	m := Message{Topic: topic, Payload: payload, QoS: qos, Durable: true}
	key, err := c.spool.put(m)
	if err != nil {
		return fault.Wrap(fault.BusUnavailable, "bus.spool", "dispatch intent not persisted", err)
	}
	m.spoolKey = key
	c.q.push(m)
	return nil
}

// Subscribe installs a handler for a topic pattern. Safe before or after
// Run; patterns are (re)applied on every connect.
func (c *Client) Subscribe(pattern string, qos byte, fn Handler) {
	c.mu.Lock()
	c.subs = append(c.subs, subscription{pattern: pattern, qos: qos, fn: fn})
	c.mu.Unlock()

	if c.connected.Load() {
		if err := c.link.Subscribe(pattern, qos, c.receive(fn)); err != nil {
			c.logger.Error().Err(err).Str(log.FieldTopic, pattern).
				Str("event", "bus.subscribe_failed").Msg("live subscribe failed, will retry on reconnect")
		}
	}
}

// receive wraps a handler so inbound work runs on the worker pool, not
// on the broker client's network goroutine.
func (c *Client) receive(fn Handler) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		c.received.Add(1)
		metrics.BusReceivedTotal.Inc()
		c.touchPing()
		select {
		case c.inbound <- inboundMsg{fn: fn, topic: topic, payload: payload}:
		default:
			metrics.IncBusDrop("inbound_full")
		}
	}
}

// Run owns the connection: dial, resubscribe, replay the spool, then
// pump the queue until the connection drops or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < inboundWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case m := <-c.inbound:
					m.fn(m.topic, m.payload)
				}
			}
		}()
	}
	defer wg.Wait()
	defer c.shutdown()

	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := c.link.Connect(); err != nil {
			c.setLastError(err)
			metrics.BusReconnectsTotal.Inc()
			c.logger.Warn().Err(err).Dur("retry_in", backoff).
				Str("event", "bus.connect_failed").Msg("broker unreachable")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, c.cfg.ReconnectMax)
			continue
		}
		backoff = reconnectBase

		c.connected.Store(true)
		metrics.BusConnected.Set(1)
		c.touchPing()
		c.logger.Info().Str("event", "bus.connected").Msg("broker link up")

		c.resubscribe()
		c.replaySpool(ctx)
		c.pump(ctx)

		c.connected.Store(false)
		metrics.BusConnected.Set(0)
		c.link.Disconnect()

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Info().Str("event", "bus.reconnecting").Msg("broker link down, reconnecting")
	}
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		if err := c.link.Subscribe(s.pattern, s.qos, c.receive(s.fn)); err != nil {
			c.setLastError(err)
			c.logger.Error().Err(err).Str(log.FieldTopic, s.pattern).
				Str("event", "bus.resubscribe_failed").Msg("pattern not restored")
		}
	}
}

// replaySpool pushes every parked durable message back through the live
// connection, oldest first. Entries stay in the spool until the broker
// confirms them.
func (c *Client) replaySpool(ctx context.Context) {
	_ = c.spool.drain(func(key []byte, m Message) bool {
		if ctx.Err() != nil || !c.connected.Load() {
			return false
		}
		if err := c.link.Publish(m.Topic, m.QoS, m.Payload); err != nil {
			c.publishErrors.Add(1)
			metrics.BusPublishErrorsTotal.Inc()
			c.setLastError(err)
			return false
		}
		c.published.Add(1)
		metrics.BusPublishedTotal.Inc()
		c.touchPing()
		c.spool.remove(key)
		return true
	})
}

// pump drains the outbound queue in coalesced batches. Per-topic order
// is preserved: batches are taken and sent oldest first, and a failed
// batch is requeued at the head.
func (c *Client) pump(ctx context.Context) {
	// Clear any stale lost signal from a previous connection.
	select {
	case <-c.lost:
	default:
	}
	// A connect may have raced with producers; drain whatever is queued.
	select {
	case c.q.wake <- struct{}{}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.lost:
			return
		case <-c.q.wake:
		}

		// Batch window: give close arrivals a chance to coalesce into
		// one drain pass.
		if c.cfg.BatchWindow > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.BatchWindow):
			}
		}

		for {
			batch := c.q.takeBatch(c.cfg.BatchSize)
			if len(batch) == 0 {
				break
			}
			if !c.flush(batch) {
				return
			}
		}
	}
}

// flush sends one batch; on the first failure the unsent remainder goes
// back to the queue head and the connection is torn down.
func (c *Client) flush(batch []Message) bool {
	for i, m := range batch {
		if err := c.link.Publish(m.Topic, m.QoS, m.Payload); err != nil {
			c.publishErrors.Add(1)
			metrics.BusPublishErrorsTotal.Inc()
			c.setLastError(err)
			c.q.requeueFront(batch[i:])
			c.onConnectionLost(err)
			return false
		}
		c.published.Add(1)
		metrics.BusPublishedTotal.Inc()
		c.touchPing()
		if m.Durable {
			c.spool.remove(m.spoolKey)
		}
	}
	return true
}

// Stats snapshots the counters the admin surface displays.
func (c *Client) Stats() Stats {
	c.lastMu.Lock()
	lastErr, lastPing := c.lastError, c.lastPing
	c.lastMu.Unlock()
	return Stats{
		Published:     c.published.Load(),
		Received:      c.received.Load(),
		PublishErrors: c.publishErrors.Load(),
		Dropped:       c.q.dropped(),
		QueueDepth:    c.q.depth(),
		SpoolDepth:    c.spool.depth(),
		LastError:     lastErr,
		LastPing:      lastPing,
		Connected:     c.connected.Load(),
	}
}

// Connected reports whether the broker link is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) setLastError(err error) {
	if err == nil {
		return
	}
	c.lastMu.Lock()
	c.lastError = err.Error()
	c.lastMu.Unlock()
}

func (c *Client) touchPing() {
	c.lastMu.Lock()
	c.lastPing = time.Now()
	c.lastMu.Unlock()
}

func (c *Client) shutdown() {
	if c.connected.Load() {
		c.link.Disconnect()
		c.connected.Store(false)
		metrics.BusConnected.Set(0)
	}
	if err := c.spool.close(); err != nil {
		c.logger.Error().Err(err).Str("event", "bus.spool_close_failed").Msg("spool close failed")
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if max > 0 && next > max {
		return max
	}
	return next
}
