package collectors

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sentryd/pkg/bus"
	"sentryd/pkg/events"
	"sentryd/pkg/log"
)

// DefaultStatPath is the /proc/stat path used when NewCPUPoller is given an
// empty statPath.
const DefaultStatPath = "/proc/stat"

// DefaultInterval is the poll period used when no collectors.<kind>_interval
// override is configured (spec.md §6 collectors.<kind>_interval).
const DefaultInterval = 5 * time.Second

// CPUPoller samples /proc/stat on an interval and publishes a
// TypeCPUMetric record carrying the aggregate and per-core utilization
// percentages consumed by the stream processor's extractCPU (spec.md §4.3).
type CPUPoller struct {
	b        *bus.Bus
	interval time.Duration
	statPath string
	logger   zerolog.Logger

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewCPUPoller builds a CPUPoller publishing to b every interval.
func NewCPUPoller(b *bus.Bus, interval time.Duration, statPath string) *CPUPoller {
	if statPath == "" {
		statPath = DefaultStatPath
	}
	return &CPUPoller{
		b:        b,
		interval: interval,
		statPath: statPath,
		logger:   log.WithComponent("collectors.cpu"),
		doneCh:   make(chan struct{}),
	}
}

// Run samples on Run's own ticker until ctx is cancelled or Stop is called.
func (p *CPUPoller) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer close(p.doneCh)

	prevAgg, prevCores, err := readCPUStat(p.statPath)
	if err != nil {
		p.logger.Warn().Err(err).Msg("initial cpu sample failed, skipping until next tick")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			agg, cores, err := readCPUStat(p.statPath)
			if err != nil {
				p.logger.Warn().Err(err).Msg("cpu sample failed")
				continue
			}
			if prevAgg.total() > 0 {
				p.publish(prevAgg, agg, prevCores, cores)
			}
			prevAgg, prevCores = agg, cores
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels Run's context and waits for it to return.
func (p *CPUPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.doneCh
}

func (p *CPUPoller) publish(prevAgg, agg cpuTimes, prevCores, cores []cpuTimes) {
	coreValues := make([]events.Value, 0, len(cores))
	for i, c := range cores {
		if i >= len(prevCores) {
			break
		}
		coreValues = append(coreValues, events.Float(utilizationPercent(prevCores[i], c)))
	}

	payload := map[string]events.Value{
		"total": events.Float(utilizationPercent(prevAgg, agg)),
		"cores": events.Array(coreValues),
	}

	rec := events.New(events.TypeCPUMetric, "collectors::cpu", payload)
	if err := p.b.Publish(rec); err != nil {
		p.logger.Warn().Err(err).Msg("failed to publish cpu metric")
	}
}
