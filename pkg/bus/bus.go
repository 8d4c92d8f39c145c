// Package bus implements the event fabric described in spec.md §4.1: a
// pub/sub broker that routes event records to named subscribers through
// per-subscriber bounded queues, evicting the oldest queued record under
// backpressure instead of blocking the publisher.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sentryd/pkg/events"
	"sentryd/pkg/log"
	"sentryd/pkg/sentryderr"
)

// DefaultBufferSize is the per-subscriber queue capacity used when a
// caller does not specify one (spec.md §6 bus.buffer_size).
const DefaultBufferSize = 10000

// Metrics is the snapshot returned by Bus.Metrics.
type Metrics struct {
	TotalPublished       uint64
	TotalDropped         uint64
	SubscriberCount      int
	PerSubscriberDepth   map[string]int
	PerSubscriberDropped map[string]uint64
}

type subscriber struct {
	id     string
	filter map[events.Type]struct{} // empty/nil = accept all
	queue  *boundedQueue
}

func (s *subscriber) accepts(t events.Type) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// Bus is the in-process event fabric. Use New to construct one.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber

	totalPublished atomic.Uint64
	totalDropped   atomic.Uint64

	bufferSize int
	logger     zerolog.Logger

	dropLogLimiter *rate.Limiter

	closed   bool
	closedCh chan struct{}
}

// New creates a Bus. bufferSize is the capacity callers should pass to
// Subscribe by default (spec.md §6 bus.buffer_size); it is not enforced
// automatically since Subscribe requires an explicit positive capacity
// (spec.md §8: "capacity 0 queue rejects subscription").
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers:    make(map[string]*subscriber),
		bufferSize:     bufferSize,
		logger:         log.WithComponent("bus"),
		dropLogLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		closedCh:       make(chan struct{}),
	}
}

// DefaultCapacity returns the buffer size this Bus was configured with, for
// callers that want to Subscribe without picking their own capacity.
func (b *Bus) DefaultCapacity() int {
	return b.bufferSize
}

// Handle is the opaque receipt returned by Subscribe.
type Handle struct {
	id  string
	bus *Bus
}

// ID returns the subscriber id backing this handle.
func (h Handle) ID() string { return h.id }

// Subscribe registers subscriberID with the given event-type filter (empty
// or nil means accept all types) and returns a handle for Receive. A zero or
// negative capacity is rejected with an error and no subscriber is created,
// per spec.md §8 boundary behavior "capacity 0 queue rejects subscription".
func (b *Bus) Subscribe(subscriberID string, filter []events.Type, capacity int) (Handle, error) {
	if capacity <= 0 {
		return Handle{}, fmt.Errorf("sentryd: queue capacity must be positive, got %d", capacity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Handle{}, sentryderr.ErrShutdown
	}
	if _, exists := b.subscribers[subscriberID]; exists {
		return Handle{}, fmt.Errorf("%w: %s", sentryderr.ErrSubscriberConflict, subscriberID)
	}

	var filterSet map[events.Type]struct{}
	if len(filter) > 0 {
		filterSet = make(map[events.Type]struct{}, len(filter))
		for _, t := range filter {
			filterSet[t] = struct{}{}
		}
	}

	b.subscribers[subscriberID] = &subscriber{
		id:     subscriberID,
		filter: filterSet,
		queue:  newBoundedQueue(capacity),
	}

	return Handle{id: subscriberID, bus: b}, nil
}

// Unsubscribe removes a subscriber and discards its queue. Safe to call
// concurrently with Publish; in-flight records for that subscriber are
// simply dropped.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	if ok {
		delete(b.subscribers, subscriberID)
	}
	b.mu.Unlock()
	if ok {
		sub.queue.close()
	}
}

// Publish routes rec to every subscriber whose filter accepts its type.
// Publish never blocks: a full subscriber queue evicts its oldest entry.
// Publishing a malformed record is rejected outright (spec.md §4.1).
func (b *Bus) Publish(rec events.Record) error {
	if !rec.Valid() {
		return fmt.Errorf("sentryd: malformed record rejected at publish")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return sentryderr.ErrShutdown
	}

	b.totalPublished.Add(1)

	for _, sub := range b.subscribers {
		if !sub.accepts(rec.Type) {
			continue
		}
		before := sub.queue.droppedCount()
		sub.queue.push(rec.Clone())
		after := sub.queue.droppedCount()
		if after > before {
			b.totalDropped.Add(after - before)
			if b.dropLogLimiter.Allow() {
				b.logger.Warn().
					Str("subscriber_id", sub.id).
					Uint64("dropped_total", after).
					Msg("subscriber queue full, evicting oldest record")
			}
		}
	}
	return nil
}

// Receive blocks until a record is available for handle's subscriber, the
// context is cancelled, or the bus is shut down. ok is false when the
// context is cancelled, or when the bus is shut down and the queue holds no
// more records — spec.md's "cancelled receive returns a sentinel". Records
// still queued at shutdown continue to be returned with ok true.
func (b *Bus) Receive(ctx context.Context, h Handle) (events.Record, bool) {
	b.mu.RLock()
	sub, ok := b.subscribers[h.id]
	b.mu.RUnlock()
	if !ok {
		return events.Record{}, false
	}

	for {
		if rec, ok := sub.queue.pop(); ok {
			return rec, true
		}
		select {
		case <-sub.queue.notEmpty:
			continue
		case <-ctx.Done():
			return events.Record{}, false
		case <-b.closedCh:
			// Drain whatever is left before reporting shutdown.
			if rec, ok := sub.queue.pop(); ok {
				return rec, true
			}
			return events.Record{}, false
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Metrics returns the aggregate and per-subscriber counters from spec.md §4.1.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := Metrics{
		TotalPublished:       b.totalPublished.Load(),
		TotalDropped:         b.totalDropped.Load(),
		SubscriberCount:      len(b.subscribers),
		PerSubscriberDepth:   make(map[string]int, len(b.subscribers)),
		PerSubscriberDropped: make(map[string]uint64, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		m.PerSubscriberDepth[id] = sub.queue.depth()
		m.PerSubscriberDropped[id] = sub.queue.droppedCount()
	}
	return m
}

// Shutdown marks the bus closed: further Publish/Subscribe calls fail and
// blocked Receive calls are released. Existing queues are left intact so
// callers can drain them up to their own grace period (spec.md §5).
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.closedCh)
}
