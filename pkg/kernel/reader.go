package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sentryd/pkg/bus"
	"sentryd/pkg/log"
	"sentryd/pkg/sentryderr"
)

// Source is anything that yields raw kernel ring-buffer samples, one
// RecordSize-or-larger byte slice at a time. Production code uses
// cilium/ebpf's ringbuf.Reader through ciliumSource; tests substitute a
// fake so the decode/publish loop is exercised without a live BPF map.
type Source interface {
	ReadSample() ([]byte, error)
	Close() error
}

type ciliumSource struct {
	reader *ringbuf.Reader
}

// OpenMap attaches a ring-buffer reader to an already-loaded BPF map, per
// the attach contract in spec.md §4.2 ("kernel probe unavailable" maps to
// sentryderr.ErrKernelAttach).
func OpenMap(m *ebpf.Map) (Source, error) {
	r, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sentryderr.ErrKernelAttach, err)
	}
	return &ciliumSource{reader: r}, nil
}

// AttachPinned opens the ring-buffer map the kernel probe pins at
// pinPath (conventionally under /sys/fs/bpf) and returns a Source over
// it. The probe program itself is loaded and pinned by a separate
// mechanism (a systemd unit, tc, or an install-time loader); sentryd
// only ever attaches to an already-running probe's map, never loads or
// verifies probe bytecode itself.
func AttachPinned(pinPath string) (Source, error) {
	m, err := ebpf.LoadPinnedMap(pinPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening pinned map %q: %w", sentryderr.ErrKernelAttach, pinPath, err)
	}
	src, err := OpenMap(m)
	if err != nil {
		m.Close()
		return nil, err
	}
	return src, nil
}

func (c *ciliumSource) ReadSample() ([]byte, error) {
	rec, err := c.reader.Read()
	if err != nil {
		return nil, err
	}
	return rec.RawSample, nil
}

func (c *ciliumSource) Close() error { return c.reader.Close() }

// Reader drives a Source: it decodes each raw sample, applies the
// source-side minimum-latency filter, and publishes the resulting event
// record onto the bus (spec.md §4.2).
type Reader struct {
	source Source
	bus    *bus.Bus

	minLatencyNs uint64
	sourceLabel  string

	logger       zerolog.Logger
	lossLimiter  *rate.Limiter

	decoded uint64
	filtered uint64
	errors   uint64
	lost     uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config controls NewReader.
type Config struct {
	// MinLatencyNs drops decoded records below this latency before they
	// reach the bus (spec.md §6 ebpf.min_latency_ns).
	MinLatencyNs uint64
	SourceLabel  string
}

// NewReader builds a Reader over an already-open Source.
func NewReader(source Source, b *bus.Bus, cfg Config) *Reader {
	label := cfg.SourceLabel
	if label == "" {
		label = "kernel::ringbuf"
	}
	return &Reader{
		source:       source,
		bus:          b,
		minLatencyNs: cfg.MinLatencyNs,
		sourceLabel:  label,
		logger:       log.WithComponent("kernel"),
		lossLimiter:  rate.NewLimiter(rate.Every(5*time.Second), 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Run reads samples until ctx is cancelled or Stop is called. It is meant
// to run in its own goroutine; callers wait on it via Stop.
func (r *Reader) Run(ctx context.Context) {
	defer close(r.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		raw, err := r.source.ReadSample()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			atomic.AddUint64(&r.errors, 1)
			r.noteLoss()
			continue
		}

		rec, err := DecodeRecord(raw, r.sourceLabel)
		if err != nil {
			atomic.AddUint64(&r.errors, 1)
			r.noteLoss()
			continue
		}
		atomic.AddUint64(&r.decoded, 1)

		if r.minLatencyNs > 0 {
			if lat, ok := rec.Payload["latency_ns"]; ok {
				if v, ok := lat.AsInt(); ok && uint64(v) < r.minLatencyNs {
					atomic.AddUint64(&r.filtered, 1)
					continue
				}
			}
		}

		if err := r.bus.Publish(rec); err != nil {
			atomic.AddUint64(&r.errors, 1)
		}
	}
}

func (r *Reader) noteLoss() {
	atomic.AddUint64(&r.lost, 1)
	if r.lossLimiter.Allow() {
		r.logger.Warn().Uint64("lost_total", atomic.LoadUint64(&r.lost)).Msg("kernel ring-buffer read/decode error")
	}
}

// Stop signals Run to exit and waits for it to return, then closes the
// underlying source.
func (r *Reader) Stop() error {
	close(r.stopCh)
	// Closing the source unblocks a Run goroutine parked in a blocking
	// ReadSample call; without this, Stop would deadlock waiting on doneCh.
	err := r.source.Close()
	<-r.doneCh
	return err
}

// Metrics is a point-in-time snapshot of the reader's counters.
type Metrics struct {
	Decoded  uint64
	Filtered uint64
	Errors   uint64
	Lost     uint64
}

func (r *Reader) Metrics() Metrics {
	return Metrics{
		Decoded:  atomic.LoadUint64(&r.decoded),
		Filtered: atomic.LoadUint64(&r.filtered),
		Errors:   atomic.LoadUint64(&r.errors),
		Lost:     atomic.LoadUint64(&r.lost),
	}
}
