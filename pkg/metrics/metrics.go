package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus metrics
	BusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentryd_bus_subscribers",
			Help: "Current number of active bus subscribers",
		},
	)

	BusPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_bus_published_total",
			Help: "Total number of event records published to the bus",
		},
	)

	BusDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_bus_dropped_total",
			Help: "Total number of event records dropped across all subscriber queues",
		},
	)

	BusQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentryd_bus_queue_depth",
			Help: "Current queue depth per subscriber",
		},
		[]string{"subscriber_id"},
	)

	// Kernel ring-buffer reader metrics
	KernelEventsDecodedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_kernel_events_decoded_total",
			Help: "Total number of kernel ring-buffer records decoded",
		},
	)

	KernelEventsFilteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_kernel_events_filtered_total",
			Help: "Total number of kernel records dropped by the minimum-latency filter",
		},
	)

	KernelDecodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_kernel_decode_errors_total",
			Help: "Total number of kernel reader errors: failed ring-buffer reads, failed decodes, and failed bus publishes",
		},
	)

	KernelEventsLostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_kernel_events_lost_total",
			Help: "Total number of kernel ring-buffer samples lost to a failed read or decode",
		},
	)

	// Stream processor metrics
	ProcessorEventsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_processor_events_processed_total",
			Help: "Total number of event records consumed by the stream processor",
		},
	)

	ProcessorActiveMetrics = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentryd_processor_active_metrics",
			Help: "Current number of distinct metric keys tracked by the stream processor",
		},
	)

	ProcessorCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentryd_processor_process_cache_size",
			Help: "Current number of entries in the process enrichment cache",
		},
	)

	ProcessorHistorySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentryd_processor_event_history_size",
			Help: "Current number of records retained in the recent-events history ring",
		},
	)

	// Anomaly detection pipeline metrics
	AnomalyTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_anomaly_ticks_total",
			Help: "Total number of detection ticks run by the anomaly pipeline",
		},
	)

	AnomalyFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentryd_anomaly_fired_total",
			Help: "Total number of anomaly findings emitted by the pipeline",
		},
	)

	AnomalyTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentryd_anomaly_tick_duration_seconds",
			Help:    "Time taken to evaluate one detection tick across all tracked metrics",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(BusSubscribers)
	prometheus.MustRegister(BusPublishedTotal)
	prometheus.MustRegister(BusDroppedTotal)
	prometheus.MustRegister(BusQueueDepth)

	prometheus.MustRegister(KernelEventsDecodedTotal)
	prometheus.MustRegister(KernelEventsFilteredTotal)
	prometheus.MustRegister(KernelDecodeErrorsTotal)
	prometheus.MustRegister(KernelEventsLostTotal)

	prometheus.MustRegister(ProcessorEventsProcessedTotal)
	prometheus.MustRegister(ProcessorActiveMetrics)
	prometheus.MustRegister(ProcessorCacheSize)
	prometheus.MustRegister(ProcessorHistorySize)

	prometheus.MustRegister(AnomalyTicksTotal)
	prometheus.MustRegister(AnomalyFiredTotal)
	prometheus.MustRegister(AnomalyTickDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
