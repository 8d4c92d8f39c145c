package anomaly

import "math"

// ZScoreModel is the mandatory, stateless detector (spec.md §4.4.1): no
// training state, scored fresh from the window on every tick.
type ZScoreModel struct{}

func (ZScoreModel) Name() string { return "z_score" }

func (ZScoreModel) Evaluate(metricKey string, window []float64, latest float64, cfg Config) (ModelResult, error) {
	mean, std := meanStd(window)

	var z float64
	if std > 1e-9 {
		z = math.Abs(latest-mean) / std
	}

	fired := z > cfg.ZThreshold
	score := math.Min(1, z/(2*cfg.ZThreshold))

	return ModelResult{
		Method: "z_score",
		Ran:    true,
		Fired:  fired,
		Score:  score,
		Mean:   mean,
		StdDev: std,
		ZScore: z,
	}, nil
}
