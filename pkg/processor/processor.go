// Package processor implements the Stream Processor (spec.md §4.3): it
// subscribes to every event on the bus, enriches records with process
// context, extracts named metric samples into per-key circular buffers,
// and serves windowed read queries.
package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentryd/pkg/bus"
	"sentryd/pkg/events"
	"sentryd/pkg/log"
	"sentryd/pkg/telemetry"
)

var tracer = telemetry.Tracer("sentryd/processor")

// Config controls NewProcessor.
type Config struct {
	SubscriberID     string
	SubscriberBuffer int
	HistoryCapacity  int
	BufferCapacity   int
	CacheCapacity    int
	CacheTTL         time.Duration
}

// Processor is the Stream Processor. Time-series buffers, the process
// cache, and the history ring are all owned by the goroutine running Run
// (spec.md §5 "owned by the stream processor task"); read queries from
// other goroutines take a short lock rather than message-passing, per the
// same section's "copy under a short critical section" allowance.
type Processor struct {
	b      *bus.Bus
	handle bus.Handle
	logger zerolog.Logger

	mu      sync.RWMutex
	buffers map[string]*timeSeriesBuffer

	bufferCapacity int
	history        *historyRing
	cache          *processCache

	eventsProcessed atomic.Uint64

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewProcessor subscribes to the bus with an accept-all filter and
// returns a Processor ready to Run.
func NewProcessor(b *bus.Bus, cfg Config) (*Processor, error) {
	id := cfg.SubscriberID
	if id == "" {
		id = "stream-processor"
	}
	subBuf := cfg.SubscriberBuffer
	if subBuf <= 0 {
		subBuf = b.DefaultCapacity()
	}

	handle, err := b.Subscribe(id, nil, subBuf)
	if err != nil {
		return nil, err
	}

	return &Processor{
		b:              b,
		handle:         handle,
		logger:         log.WithComponent("processor"),
		buffers:        make(map[string]*timeSeriesBuffer),
		bufferCapacity: cfg.BufferCapacity,
		history:        newHistoryRing(cfg.HistoryCapacity),
		cache:          newProcessCache(cfg.CacheCapacity, cfg.CacheTTL, nil),
		doneCh:         make(chan struct{}),
	}, nil
}

// Run consumes records until ctx is cancelled, the bus shuts down, or Stop
// is called. Intended to run in its own goroutine.
func (p *Processor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer close(p.doneCh)
	for {
		rec, ok := p.b.Receive(ctx, p.handle)
		if !ok {
			return
		}
		p.processRecord(ctx, rec)
	}
}

// processRecord handles a single record: enrichment, extraction, append,
// history (spec.md §4.3 "Per-record handling").
func (p *Processor) processRecord(ctx context.Context, rec events.Record) {
	_, span := tracer.Start(ctx, "processor.process_record")
	defer span.End()

	var info ProcessInfo
	if rec.HasPID {
		info = p.cache.resolve(rec.PID, rec.Timestamp)
	}

	for _, ext := range extractMetrics(rec) {
		sample := Sample{Timestamp: rec.Timestamp, Value: ext.value}
		if rec.HasPID {
			meta := map[string]events.Value{"resolved": events.Bool(info.Resolved)}
			if info.Resolved {
				meta["comm"] = events.String(info.Comm)
				meta["user"] = events.String(info.User)
			}
			sample.Metadata = meta
		} else if ext.metadata != nil {
			sample.Metadata = ext.metadata
		}
		p.bufferFor(ext.key).append(sample)
	}

	p.history.append(rec)
	p.eventsProcessed.Add(1)
}

func (p *Processor) bufferFor(key string) *timeSeriesBuffer {
	p.mu.RLock()
	b, ok := p.buffers[key]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.buffers[key]; ok {
		return b
	}
	b = newTimeSeriesBuffer(p.bufferCapacity)
	p.buffers[key] = b
	return b
}

// QueryMetric returns every sample for key within [now-window, now]
// (spec.md §4.3 query_metric). Unknown keys return an empty slice.
func (p *Processor) QueryMetric(key string, window time.Duration) []Sample {
	p.mu.RLock()
	b, ok := p.buffers[key]
	p.mu.RUnlock()
	if !ok {
		return []Sample{}
	}
	return b.window(time.Now(), window)
}

// MetricStats returns summary statistics for key (spec.md §4.3
// metric_stats). Unknown keys return the zero Stats.
func (p *Processor) MetricStats(key string) Stats {
	p.mu.RLock()
	b, ok := p.buffers[key]
	p.mu.RUnlock()
	if !ok {
		return Stats{}
	}
	return b.stats()
}

// ListMetricKeys returns every currently tracked metric key.
func (p *Processor) ListMetricKeys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.buffers))
	for k := range p.buffers {
		keys = append(keys, k)
	}
	return keys
}

// RecentEvents returns up to limit history records matching filter
// (nil/empty = any type), newest first (spec.md §4.3 recent_events).
func (p *Processor) RecentEvents(filter []events.Type, limit int) []events.Record {
	var set map[events.Type]struct{}
	if len(filter) > 0 {
		set = make(map[events.Type]struct{}, len(filter))
		for _, t := range filter {
			set[t] = struct{}{}
		}
	}
	return p.history.recent(set, limit)
}

// Counters is the processor-side portion of the stats contract in
// spec.md §6.
type Counters struct {
	EventsProcessed  uint64
	ActiveMetrics    int
	ProcessCacheSize int
	EventHistorySize int
}

func (p *Processor) Counters() Counters {
	p.mu.RLock()
	active := len(p.buffers)
	p.mu.RUnlock()
	return Counters{
		EventsProcessed:  p.eventsProcessed.Load(),
		ActiveMetrics:    active,
		ProcessCacheSize: p.cache.size(),
		EventHistorySize: p.history.len(),
	}
}

// Stop cancels Run's context, waits for it to return, then unsubscribes
// from the bus. Run must have been started (and observed its first
// Receive call) before Stop is called.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.doneCh
	p.b.Unsubscribe(p.handle.ID())
}
