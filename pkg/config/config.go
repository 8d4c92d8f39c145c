// Package config loads sentryd's YAML configuration file and applies the
// option table from spec.md §6, with defaults matching each component's own
// DefaultConfig so a missing or partial file still produces a runnable
// daemon.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sentryd/pkg/anomaly"
	"sentryd/pkg/bus"
	"sentryd/pkg/log"
	"sentryd/pkg/processor"
	"sentryd/pkg/sentryderr"
)

// EBPF controls the kernel ring-buffer reader.
type EBPF struct {
	EnableSyscallTrace bool   `yaml:"enable_syscall_trace"`
	BufferPages        int    `yaml:"buffer_pages"`
	MinLatencyNs       uint64 `yaml:"min_latency_ns"`
	// PinPath is where the kernel probe pins its ring-buffer map
	// (conventionally under /sys/fs/bpf). The probe itself is loaded and
	// attached by a separate mechanism; sentryd only attaches to the map.
	PinPath string `yaml:"pin_path"`
}

// Collectors controls the user-space poller cadence. Each poller kind
// (e.g. "cpu", "memory") reads its period in seconds from the
// "<kind>_interval" key of the collectors section (e.g. cpu_interval).
type Collectors struct {
	Intervals map[string]float64 `yaml:",inline"`
}

// IntervalFor returns the configured poll period for kind, or def if unset.
func (c Collectors) IntervalFor(kind string, def time.Duration) time.Duration {
	secs, ok := c.Intervals[kind+"_interval"]
	if !ok || secs <= 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// ML controls the anomaly detection pipeline.
type ML struct {
	ZThreshold         float64 `yaml:"z_threshold"`
	DetectionInterval  float64 `yaml:"detection_interval"`
	MinSamples         int     `yaml:"min_samples"`
	Cooldown           float64 `yaml:"cooldown"`
	EnsembleThreshold  float64 `yaml:"ensemble_threshold"`
	MinVoters          int     `yaml:"min_voters"`
	HistoryWindowSize  int     `yaml:"history_window_size"`
	EnableIsolation    *bool   `yaml:"enable_isolation"`
	EnableOneClass     *bool   `yaml:"enable_one_class"`
	EnableReconstruction bool  `yaml:"enable_reconstruction"`
}

// BusConfig controls the event bus.
type BusConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// ProcessorConfig controls the stream processor.
type ProcessorConfig struct {
	EventHistorySize int     `yaml:"event_history_size"`
	CacheCapacity    int     `yaml:"cache_capacity"`
	CacheTTL         float64 `yaml:"cache_ttl"`
}

// Config is the root configuration document.
type Config struct {
	Log        LogConfig       `yaml:"log"`
	EBPF       EBPF            `yaml:"ebpf"`
	Collectors Collectors      `yaml:"collectors"`
	ML         ML              `yaml:"ml"`
	Bus        BusConfig       `yaml:"bus"`
	Processor  ProcessorConfig `yaml:"processor"`
}

// LogConfig holds the file's log section (ambient, not spec.md §6's core
// option table). cmd/sentryd configures logging from its --log-level and
// --log-json flags and does not read this section.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config whose values match every component's own
// DefaultConfig, so an empty or absent file is a legal, runnable config.
func Default() Config {
	anomalyDefaults := anomaly.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info", JSON: false},
		EBPF: EBPF{
			EnableSyscallTrace: false,
			BufferPages:        64,
			MinLatencyNs:       0,
			PinPath:            "/sys/fs/bpf/sentryd/events",
		},
		Collectors: Collectors{Intervals: map[string]float64{}},
		ML: ML{
			ZThreshold:           anomalyDefaults.ZThreshold,
			DetectionInterval:    anomalyDefaults.DetectionInterval.Seconds(),
			MinSamples:           anomalyDefaults.MinSamples,
			Cooldown:             anomalyDefaults.Cooldown.Seconds(),
			EnsembleThreshold:    anomalyDefaults.EnsembleThreshold,
			MinVoters:            anomalyDefaults.MinVoters,
			HistoryWindowSize:    processor.DefaultBufferCapacity,
			EnableReconstruction: anomalyDefaults.EnableReconstruction,
		},
		Bus: BusConfig{BufferSize: bus.DefaultBufferSize},
		Processor: ProcessorConfig{
			EventHistorySize: processor.DefaultHistoryCapacity,
			CacheCapacity:    processor.DefaultCacheCapacity,
			CacheTTL:         processor.DefaultCacheTTL.Seconds(),
		},
	}
}

// Load reads and parses a YAML config file at path, starting from Default
// and overriding only the fields present in the file. A missing path is not
// an error — callers pass "" to mean "defaults only".
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithComponent("config").Warn().Str("path", path).Msg("config file not found, using defaults")
			return cfg, nil
		}
		return cfg, fmt.Errorf("%w: reading %s: %v", sentryderr.ErrConfig, path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", sentryderr.ErrConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects out-of-range values that would otherwise surface as
// confusing runtime behavior (spec.md §7 "ConfigError... fatal at startup").
func (c Config) Validate() error {
	if c.Bus.BufferSize <= 0 {
		return fmt.Errorf("%w: bus.buffer_size must be positive, got %d", sentryderr.ErrConfig, c.Bus.BufferSize)
	}
	if c.ML.MinVoters <= 0 {
		return fmt.Errorf("%w: ml.min_voters must be positive, got %d", sentryderr.ErrConfig, c.ML.MinVoters)
	}
	if c.ML.DetectionInterval <= 0 {
		return fmt.Errorf("%w: ml.detection_interval must be positive, got %v", sentryderr.ErrConfig, c.ML.DetectionInterval)
	}
	return nil
}

// AnomalyConfig translates the YAML ML section into anomaly.Config,
// preserving the component's own boolean defaults (isolation/one-class
// default on) unless the file explicitly overrides them.
func (c Config) AnomalyConfig() anomaly.Config {
	cfg := anomaly.DefaultConfig()
	cfg.ZThreshold = c.ML.ZThreshold
	cfg.DetectionInterval = durationSeconds(c.ML.DetectionInterval)
	cfg.MinSamples = c.ML.MinSamples
	cfg.Cooldown = durationSeconds(c.ML.Cooldown)
	cfg.EnsembleThreshold = c.ML.EnsembleThreshold
	cfg.MinVoters = c.ML.MinVoters
	cfg.EnableReconstruction = c.ML.EnableReconstruction
	if c.ML.EnableIsolation != nil {
		cfg.EnableIsolation = *c.ML.EnableIsolation
	}
	if c.ML.EnableOneClass != nil {
		cfg.EnableOneClass = *c.ML.EnableOneClass
	}
	return cfg
}

func durationSeconds(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// ToProcessorConfig translates the YAML processor section into
// processor.Config for the given bus subscriber id/capacity.
func (c Config) ToProcessorConfig(subscriberID string, subscriberBuffer int) processor.Config {
	return processor.Config{
		SubscriberID:     subscriberID,
		SubscriberBuffer: subscriberBuffer,
		HistoryCapacity:  c.Processor.EventHistorySize,
		BufferCapacity:   c.ML.HistoryWindowSize,
		CacheCapacity:    c.Processor.CacheCapacity,
		CacheTTL:         durationSeconds(c.Processor.CacheTTL),
	}
}
