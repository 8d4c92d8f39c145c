package anomaly

import (
	"math"
	"sync"
)

// isolationFitThreshold is the conventional modified-z-score cutoff for
// "isolated" points (Iglewicz & Hoaglin); no pack repo ships an isolation
// forest implementation, so this model approximates the same "how far
// does this point stand apart from the rest" question with a median/MAD
// estimator built on math/stdlib, wired behind the same capability
// interface a real isolation-forest library would implement.
const isolationFitThreshold = 3.5

type isoFit struct {
	median       float64
	mad          float64
	lastFitCount int
}

// IsolationModel is the "isolation-style" detector (spec.md §4.4.2).
type IsolationModel struct {
	mu     sync.Mutex
	fitted map[string]*isoFit
}

func NewIsolationModel() *IsolationModel {
	return &IsolationModel{fitted: make(map[string]*isoFit)}
}

func (*IsolationModel) Name() string { return "isolation" }

func (m *IsolationModel) Evaluate(metricKey string, window []float64, latest float64, cfg Config) (ModelResult, error) {
	if len(window) < 2 {
		return ModelResult{Method: "isolation"}, nil
	}

	m.mu.Lock()
	fit, ok := m.fitted[metricKey]
	needsFit := !ok || len(window)-fit.lastFitCount >= cfg.RetrainDelta
	if needsFit {
		train := lastN(window, cfg.TrainWindow)
		med, mad := medianAbsoluteDeviation(train)
		fit = &isoFit{median: med, mad: mad, lastFitCount: len(window)}
		m.fitted[metricKey] = fit
	}
	center, mad := fit.median, fit.mad
	m.mu.Unlock()

	var modZ float64
	if mad > 1e-9 {
		modZ = math.Abs(latest-center) / mad
	}

	fired := modZ > isolationFitThreshold
	score := math.Min(1, modZ/(2*isolationFitThreshold))

	return ModelResult{Method: "isolation", Ran: true, Fired: fired, Score: score}, nil
}
