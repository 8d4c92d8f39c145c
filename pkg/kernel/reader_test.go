package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryd/pkg/bus"
	"sentryd/pkg/events"
)

// fakeSource feeds a fixed slice of raw samples, then blocks until closed.
type fakeSource struct {
	mu      sync.Mutex
	samples [][]byte
	next    int
	closed  bool
	closeCh chan struct{}
}

func newFakeSource(samples [][]byte) *fakeSource {
	return &fakeSource{samples: samples, closeCh: make(chan struct{})}
}

var errFakeClosed = errors.New("fake source closed")

func (f *fakeSource) ReadSample() ([]byte, error) {
	f.mu.Lock()
	if f.next < len(f.samples) {
		s := f.samples[f.next]
		f.next++
		f.mu.Unlock()
		return s, nil
	}
	f.mu.Unlock()

	<-f.closeCh
	return nil, errFakeClosed
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func TestReaderDecodesAndPublishes(t *testing.T) {
	raw := buildRaw(100, 100, 1, 1, 2, 500, 0, "cat")
	src := newFakeSource([][]byte{raw})
	b := bus.New(10)
	h, err := b.Subscribe("sub", nil, 10)
	require.NoError(t, err)

	r := NewReader(src, b, Config{SourceLabel: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	rec, ok := b.Receive(recvCtx, h)
	require.True(t, ok)
	assert.Equal(t, events.TypeSyscall, rec.Type)

	require.NoError(t, r.Stop())
	assert.EqualValues(t, 1, r.Metrics().Decoded)
}

func TestReaderFiltersBelowMinLatency(t *testing.T) {
	low := buildRaw(1, 1, 1, 1, 2, 10, 0, "a")
	high := buildRaw(2, 2, 1, 1, 2, 10_000, 0, "b")
	src := newFakeSource([][]byte{low, high})
	b := bus.New(10)
	h, err := b.Subscribe("sub", nil, 10)
	require.NoError(t, err)

	r := NewReader(src, b, Config{SourceLabel: "test", MinLatencyNs: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	rec, ok := b.Receive(recvCtx, h)
	require.True(t, ok)
	lat, _ := rec.Payload["latency_ns"].AsInt()
	assert.EqualValues(t, 10_000, lat)

	require.NoError(t, r.Stop())
	assert.EqualValues(t, 1, r.Metrics().Filtered)
	assert.EqualValues(t, 2, r.Metrics().Decoded)
}

func TestReaderCountsDecodeErrors(t *testing.T) {
	src := newFakeSource([][]byte{{0x01, 0x02}}) // too short
	b := bus.New(10)
	r := NewReader(src, b, Config{SourceLabel: "test"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Stop())
	<-done
	assert.GreaterOrEqual(t, r.Metrics().Errors, uint64(1))
}
