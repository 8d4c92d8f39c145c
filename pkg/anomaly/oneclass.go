package anomaly

import "sync"

// oneClassIQRMultiplier is Tukey's conventional fence multiplier; no pack
// repo ships a one-class SVM, so the "learned boundary" here is the
// interquartile fence computed with math/stdlib, wired behind the same
// fit/score capability interface a real one-class model would implement.
const oneClassIQRMultiplier = 1.5

type boundaryFit struct {
	lower, upper float64
	iqr          float64
	lastFitCount int
}

// OneClassModel is the one-class boundary detector (spec.md §4.4.3).
type OneClassModel struct {
	mu     sync.Mutex
	fitted map[string]*boundaryFit
}

func NewOneClassModel() *OneClassModel {
	return &OneClassModel{fitted: make(map[string]*boundaryFit)}
}

func (*OneClassModel) Name() string { return "one_class" }

func (m *OneClassModel) Evaluate(metricKey string, window []float64, latest float64, cfg Config) (ModelResult, error) {
	if len(window) < 4 {
		return ModelResult{Method: "one_class"}, nil
	}

	m.mu.Lock()
	fit, ok := m.fitted[metricKey]
	needsFit := !ok || len(window)-fit.lastFitCount >= cfg.RetrainDelta
	if needsFit {
		train := sortedCopy(lastN(window, cfg.TrainWindow))
		q1 := quantile(train, 0.25)
		q3 := quantile(train, 0.75)
		iqr := q3 - q1
		fit = &boundaryFit{
			lower:        q1 - oneClassIQRMultiplier*iqr,
			upper:        q3 + oneClassIQRMultiplier*iqr,
			iqr:          iqr,
			lastFitCount: len(window),
		}
		m.fitted[metricKey] = fit
	}
	lower, upper, iqr := fit.lower, fit.upper, fit.iqr
	m.mu.Unlock()

	var distance float64
	fired := false
	switch {
	case latest < lower:
		distance = lower - latest
		fired = true
	case latest > upper:
		distance = latest - upper
		fired = true
	}

	var score float64
	if fired && iqr > 1e-9 {
		score = distance / iqr
		if score > 1 {
			score = 1
		}
	}

	return ModelResult{Method: "one_class", Ran: true, Fired: fired, Score: score}, nil
}
