package anomaly

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"sentryd/pkg/bus"
	"sentryd/pkg/events"
	"sentryd/pkg/log"
	"sentryd/pkg/processor"
	"sentryd/pkg/telemetry"
)

var tracer = telemetry.Tracer("sentryd/anomaly")

// Source is the read-side the pipeline needs from the Stream Processor.
// Defined as an interface so tests can feed synthetic windows without
// running a full Processor + Bus (spec.md §4.4 "pulls recent samples per
// metric from the processor").
type Source interface {
	ListMetricKeys() []string
	MetricStats(key string) processor.Stats
	QueryMetric(key string, window time.Duration) []processor.Sample
}

// Pipeline is the Anomaly Detection Pipeline (spec.md §4.4). Models and
// per-metric cooldown state are owned exclusively by the tick goroutine
// (spec.md §5 "Anomaly models: owned by the pipeline task; no external
// access"), so no locking is needed around them.
type Pipeline struct {
	source Source
	bus    *bus.Bus
	cfg    Config
	logger zerolog.Logger

	models []Model

	tracks map[string]*trackState

	cancel context.CancelFunc
	doneCh chan struct{}

	mu          sync.RWMutex
	ticksRun    uint64
	anomaliesEmitted uint64
}

// NewPipeline builds a Pipeline over source, publishing findings to b.
// The z-score model is always included; isolation/one-class/reconstruction
// are added according to cfg's enable flags (spec.md §4.4 "All ML models
// are optional collaborators... The z-score model is mandatory").
func NewPipeline(source Source, b *bus.Bus, cfg Config) *Pipeline {
	models := []Model{ZScoreModel{}}
	if cfg.EnableIsolation {
		models = append(models, NewIsolationModel())
	}
	if cfg.EnableOneClass {
		models = append(models, NewOneClassModel())
	}
	if cfg.EnableReconstruction {
		models = append(models, ReconstructionModel{})
	}

	return &Pipeline{
		source: source,
		bus:    b,
		cfg:    cfg,
		logger: log.WithComponent("anomaly"),
		models: models,
		tracks: make(map[string]*trackState),
		doneCh: make(chan struct{}),
	}
}

// Run ticks every cfg.DetectionInterval until ctx is cancelled or Stop is
// called.
func (p *Pipeline) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	defer close(p.doneCh)

	interval := p.cfg.DetectionInterval
	if interval <= 0 {
		interval = DefaultConfig().DetectionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx, time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels Run's context and waits for it to return.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.doneCh
}

func (p *Pipeline) trackFor(key string) *trackState {
	st, ok := p.tracks[key]
	if !ok {
		st = newTrackState()
		p.tracks[key] = st
	}
	return st
}

// Tick runs one evaluation pass synchronously; exported so tests and the
// S3/S4 scenarios can drive the pipeline deterministically instead of
// waiting on a real ticker.
func (p *Pipeline) Tick(now time.Time) {
	p.tick(context.Background(), now)
}

func (p *Pipeline) tick(ctx context.Context, now time.Time) {
	_, span := tracer.Start(ctx, "anomaly.tick")
	defer span.End()

	for _, key := range p.source.ListMetricKeys() {
		stats := p.source.MetricStats(key)
		st := p.trackFor(key)

		if st.state == stateUntracked {
			st.state = stateTracking
		}
		if stats.Count < p.cfg.MinSamples {
			continue
		}
		st.state = stateArmed

		samples := p.source.QueryMetric(key, p.cfg.windowDuration())
		if len(samples) == 0 {
			continue
		}
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = s.Value
		}

		p.evaluateMetric(key, values, stats.Latest, st, now)
	}

	p.mu.Lock()
	p.ticksRun++
	p.mu.Unlock()
}

type modelOutcome struct {
	result ModelResult
	err    error
}

func (p *Pipeline) evaluateMetric(key string, window []float64, latest float64, st *trackState, now time.Time) {
	outcomes := make([]modelOutcome, len(p.models))

	wg := conc.NewWaitGroup()
	for i, m := range p.models {
		i, m := i, m
		wg.Go(func() {
			outcomes[i] = p.runModel(m, key, window, latest)
		})
	}
	wg.Wait()

	var voters int
	var scoreSum float64
	var ran int
	var contributing []contributingMethod

	for _, oc := range outcomes {
		if oc.err != nil {
			p.logger.Warn().Str("metric_key", key).Str("method", oc.result.Method).Err(oc.err).Msg("anomaly model error, skipping for this tick")
			continue
		}
		if !oc.result.Ran {
			continue // model declined to run (e.g. not enough samples yet)
		}
		ran++
		scoreSum += oc.result.Score
		if oc.result.Fired {
			voters++
			contributing = append(contributing, contributingMethod{method: oc.result.Method, score: oc.result.Score})
		}

		if oc.result.Fired && !st.coolingDown(oc.result.Method, now) {
			p.emit(key, oc.result, latest, len(window), now)
			st.arm(oc.result.Method, now, p.cfg.Cooldown)
		}
	}

	if ran == 0 {
		return
	}
	fused := scoreSum / float64(ran)
	ensembleFires := voters >= p.cfg.MinVoters || fused > p.cfg.EnsembleThreshold
	if ensembleFires && !st.coolingDown("ensemble", now) {
		p.emitEnsemble(key, fused, latest, contributing, len(window), now)
		st.arm("ensemble", now, p.cfg.Cooldown)
	}
}

func (p *Pipeline) runModel(m Model, key string, window []float64, latest float64) (oc modelOutcome) {
	defer func() {
		if r := recover(); r != nil {
			oc = modelOutcome{result: ModelResult{Method: m.Name()}, err: panicError{value: r}}
		}
	}()
	res, err := m.Evaluate(key, window, latest, p.cfg)
	if res.Method == "" {
		res.Method = m.Name()
	}
	return modelOutcome{result: res, err: err}
}

type panicError struct{ value any }

func (p panicError) Error() string { return "model panicked" }

type contributingMethod struct {
	method string
	score  float64
}

func (p *Pipeline) emit(key string, res ModelResult, latest float64, windowSize int, now time.Time) {
	payload := map[string]events.Value{
		"metric_key":  events.String(key),
		"value":       events.Float(latest),
		"window_size": events.Int(int64(windowSize)),
		"method":      events.String(res.Method),
		"confidence":  events.Float(res.Score),
	}
	if res.Method == "z_score" {
		payload["mean"] = events.Float(res.Mean)
		payload["std_dev"] = events.Float(res.StdDev)
		payload["z_score"] = events.Float(res.ZScore)
	}

	rec := events.New(events.TypeAnomaly, "ml::anomaly_detector", payload)
	rec.Timestamp = now
	if err := p.bus.Publish(rec); err != nil {
		p.logger.Warn().Str("metric_key", key).Err(err).Msg("failed to publish anomaly record")
		return
	}
	p.mu.Lock()
	p.anomaliesEmitted++
	p.mu.Unlock()
}

func (p *Pipeline) emitEnsemble(key string, fused float64, latest float64, contributing []contributingMethod, windowSize int, now time.Time) {
	arr := make([]events.Value, len(contributing))
	for i, c := range contributing {
		arr[i] = events.Map(map[string]events.Value{
			"method": events.String(c.method),
			"score":  events.Float(c.score),
		})
	}

	payload := map[string]events.Value{
		"metric_key":           events.String(key),
		"value":                events.Float(latest),
		"window_size":          events.Int(int64(windowSize)),
		"method":               events.String("ensemble"),
		"confidence":           events.Float(fused),
		"contributing_methods": events.Array(arr),
	}

	rec := events.New(events.TypeAnomaly, "ml::anomaly_detector", payload)
	rec.Timestamp = now
	if err := p.bus.Publish(rec); err != nil {
		p.logger.Warn().Str("metric_key", key).Err(err).Msg("failed to publish ensemble anomaly record")
		return
	}
	p.mu.Lock()
	p.anomaliesEmitted++
	p.mu.Unlock()
}

// Counters exposes tick/emission counts for the stats contract (spec.md §6).
type Counters struct {
	TicksRun         uint64
	AnomaliesEmitted uint64
}

func (p *Pipeline) Counters() Counters {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Counters{TicksRun: p.ticksRun, AnomaliesEmitted: p.anomaliesEmitted}
}
