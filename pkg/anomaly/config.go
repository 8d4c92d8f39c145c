package anomaly

import "time"

// Config mirrors the ml.* options in spec.md §6.
type Config struct {
	ZThreshold        float64
	DetectionInterval time.Duration
	MinSamples        int
	Cooldown          time.Duration
	EnsembleThreshold float64
	MinVoters         int
	WindowSeconds     float64

	TrainWindow  int
	RetrainDelta int

	EnableIsolation      bool
	EnableOneClass       bool
	EnableReconstruction bool
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		ZThreshold:        3.0,
		DetectionInterval: 3 * time.Second,
		MinSamples:        20,
		Cooldown:          30 * time.Second,
		EnsembleThreshold: 0.7,
		MinVoters:         2,
		WindowSeconds:     300,

		TrainWindow:  100,
		RetrainDelta: 20,

		EnableIsolation:      true,
		EnableOneClass:       true,
		EnableReconstruction: false,
	}
}

func (c Config) windowDuration() time.Duration {
	return time.Duration(c.WindowSeconds * float64(time.Second))
}
