package metrics

import (
	"time"

	"sentryd/pkg/anomaly"
	"sentryd/pkg/bus"
	"sentryd/pkg/kernel"
	"sentryd/pkg/processor"
)

// Collector polls the bus, stream processor, kernel reader, and anomaly
// pipeline on an interval and republishes their internal counters as
// Prometheus series. Counters are monotonic sources snapshotted by the
// components themselves, so the collector tracks the last-seen value per
// series and Adds only the delta, rather than calling Set on a Counter.
type Collector struct {
	b        *bus.Bus
	proc     *processor.Processor
	pipeline *anomaly.Pipeline
	reader   *kernel.Reader

	stopCh chan struct{}

	lastBusPublished      uint64
	lastBusDropped        uint64
	lastKernelDecoded     uint64
	lastKernelFiltered    uint64
	lastKernelErrors      uint64
	lastKernelLost        uint64
	lastEventsProcessed   uint64
	lastTicksRun          uint64
	lastAnomaliesEmitted  uint64
}

// NewCollector builds a Collector. reader may be nil when syscall tracing
// is disabled and no kernel reader was started, in which case kernel
// metrics stay at zero.
func NewCollector(b *bus.Bus, proc *processor.Processor, pipeline *anomaly.Pipeline, reader *kernel.Reader) *Collector {
	return &Collector{
		b:        b,
		proc:     proc,
		pipeline: pipeline,
		reader:   reader,
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling on a 5 second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectBusMetrics()
	c.collectProcessorMetrics()
	c.collectKernelMetrics()
	c.collectAnomalyMetrics()
}

func (c *Collector) collectBusMetrics() {
	m := c.b.Metrics()

	BusSubscribers.Set(float64(m.SubscriberCount))

	BusPublishedTotal.Add(float64(m.TotalPublished - c.lastBusPublished))
	c.lastBusPublished = m.TotalPublished

	BusDroppedTotal.Add(float64(m.TotalDropped - c.lastBusDropped))
	c.lastBusDropped = m.TotalDropped

	for id, depth := range m.PerSubscriberDepth {
		BusQueueDepth.WithLabelValues(id).Set(float64(depth))
	}
}

func (c *Collector) collectProcessorMetrics() {
	if c.proc == nil {
		return
	}
	counters := c.proc.Counters()

	ProcessorEventsProcessedTotal.Add(float64(counters.EventsProcessed - c.lastEventsProcessed))
	c.lastEventsProcessed = counters.EventsProcessed

	ProcessorActiveMetrics.Set(float64(counters.ActiveMetrics))
	ProcessorCacheSize.Set(float64(counters.ProcessCacheSize))
	ProcessorHistorySize.Set(float64(counters.EventHistorySize))
}

func (c *Collector) collectKernelMetrics() {
	if c.reader == nil {
		return
	}
	m := c.reader.Metrics()

	KernelEventsDecodedTotal.Add(float64(m.Decoded - c.lastKernelDecoded))
	c.lastKernelDecoded = m.Decoded

	KernelEventsFilteredTotal.Add(float64(m.Filtered - c.lastKernelFiltered))
	c.lastKernelFiltered = m.Filtered

	KernelDecodeErrorsTotal.Add(float64(m.Errors - c.lastKernelErrors))
	c.lastKernelErrors = m.Errors

	KernelEventsLostTotal.Add(float64(m.Lost - c.lastKernelLost))
	c.lastKernelLost = m.Lost
}

func (c *Collector) collectAnomalyMetrics() {
	if c.pipeline == nil {
		return
	}
	counters := c.pipeline.Counters()

	AnomalyTicksTotal.Add(float64(counters.TicksRun - c.lastTicksRun))
	c.lastTicksRun = counters.TicksRun

	AnomalyFiredTotal.Add(float64(counters.AnomaliesEmitted - c.lastAnomaliesEmitted))
	c.lastAnomaliesEmitted = counters.AnomaliesEmitted
}
