package collectors

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sentryd/pkg/bus"
	"sentryd/pkg/events"
	"sentryd/pkg/log"
)

// DefaultMeminfoPath is the /proc/meminfo path used when NewMemoryPoller is
// given an empty meminfoPath.
const DefaultMeminfoPath = "/proc/meminfo"

// MemoryPoller samples /proc/meminfo on an interval and publishes a
// TypeMemoryMetric record carrying virtual and swap usage, consumed by the
// stream processor's extractMemory (spec.md §4.3).
type MemoryPoller struct {
	b            *bus.Bus
	interval     time.Duration
	meminfoPath  string
	logger       zerolog.Logger

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewMemoryPoller builds a MemoryPoller publishing to b every interval.
func NewMemoryPoller(b *bus.Bus, interval time.Duration, meminfoPath string) *MemoryPoller {
	if meminfoPath == "" {
		meminfoPath = DefaultMeminfoPath
	}
	return &MemoryPoller{
		b:           b,
		interval:    interval,
		meminfoPath: meminfoPath,
		logger:      log.WithComponent("collectors.memory"),
		doneCh:      make(chan struct{}),
	}
}

// Run samples on Run's own ticker until ctx is cancelled or Stop is called.
func (p *MemoryPoller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap, err := readMeminfo(p.meminfoPath)
			if err != nil {
				p.logger.Warn().Err(err).Msg("memory sample failed")
				continue
			}
			p.publish(snap)
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels Run's context and waits for it to return.
func (p *MemoryPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.doneCh
}

func (p *MemoryPoller) publish(snap meminfoSnapshot) {
	payload := map[string]events.Value{
		"virtual":         events.Float(float64(snap.usedBytes())),
		"virtual_percent": events.Float(snap.usedPercent()),
		"swap":            events.Float(float64(snap.swapUsedBytes())),
		"swap_percent":    events.Float(snap.swapUsedPercent()),
	}

	rec := events.New(events.TypeMemoryMetric, "collectors::memory", payload)
	if err := p.b.Publish(rec); err != nil {
		p.logger.Warn().Err(err).Msg("failed to publish memory metric")
	}
}

type meminfoSnapshot struct {
	totalKB, availableKB   uint64
	swapTotalKB, swapFreeKB uint64
}

func (m meminfoSnapshot) usedBytes() uint64 {
	if m.availableKB > m.totalKB {
		return 0
	}
	return (m.totalKB - m.availableKB) * 1024
}

func (m meminfoSnapshot) usedPercent() float64 {
	if m.totalKB == 0 {
		return 0
	}
	return float64(m.usedBytes()) / float64(m.totalKB*1024) * 100
}

func (m meminfoSnapshot) swapUsedBytes() uint64 {
	if m.swapFreeKB > m.swapTotalKB {
		return 0
	}
	return (m.swapTotalKB - m.swapFreeKB) * 1024
}

func (m meminfoSnapshot) swapUsedPercent() float64 {
	if m.swapTotalKB == 0 {
		return 0
	}
	return float64(m.swapUsedBytes()) / float64(m.swapTotalKB*1024) * 100
}

// readMeminfo parses the subset of /proc/meminfo fields this poller needs.
// MemAvailable falls back to MemFree when the kernel doesn't report it
// (pre-3.14).
func readMeminfo(path string) (meminfoSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return meminfoSnapshot{}, fmt.Errorf("collectors: opening %s: %w", path, err)
	}
	defer f.Close()

	var snap meminfoSnapshot
	var memFreeKB uint64
	var haveAvailable bool

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		val, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "MemTotal":
			snap.totalKB = val
		case "MemFree":
			memFreeKB = val
		case "MemAvailable":
			snap.availableKB = val
			haveAvailable = true
		case "SwapTotal":
			snap.swapTotalKB = val
		case "SwapFree":
			snap.swapFreeKB = val
		}
	}
	if err := scanner.Err(); err != nil {
		return meminfoSnapshot{}, fmt.Errorf("collectors: scanning %s: %w", path, err)
	}
	if !haveAvailable {
		snap.availableKB = memFreeKB
	}
	return snap, nil
}
