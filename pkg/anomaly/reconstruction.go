package anomaly

import "math"

// reconstructionThreshold gates the normalized reconstruction error.
const reconstructionThreshold = 3.0

// ReconstructionModel approximates an encoder-decoder's reconstruction
// error with the window's own moving average: the "reconstruction" of the
// latest point is what the rest of the window would have predicted, and
// the anomaly score is how far the real point strays from that
// prediction, relative to the window's spread. No pack repo bundles an
// autoencoder runtime, so this stays on math/stdlib behind the same
// fit/score capability interface; only enabled when
// Config.EnableReconstruction is set, per spec.md §4.4.4.
type ReconstructionModel struct{}

func (ReconstructionModel) Name() string { return "reconstruction" }

func (ReconstructionModel) Evaluate(metricKey string, window []float64, latest float64, cfg Config) (ModelResult, error) {
	if !cfg.EnableReconstruction || len(window) < 2 {
		return ModelResult{Method: "reconstruction"}, nil
	}

	train := window
	if len(window) > 1 {
		train = window[:len(window)-1]
	}
	mean, std := meanStd(train)

	errAbs := math.Abs(latest - mean)
	var normalized float64
	if std > 1e-9 {
		normalized = errAbs / std
	}

	fired := normalized > reconstructionThreshold
	score := math.Min(1, normalized/(2*reconstructionThreshold))

	return ModelResult{Method: "reconstruction", Ran: true, Fired: fired, Score: score}, nil
}
