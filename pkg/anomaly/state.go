package anomaly

import "time"

// trackState is the per-metric-key bookkeeping for the state machine in
// spec.md §4.4 ("UNTRACKED → TRACKING → ARMED → COOLDOWN"). cooldowns
// holds the per-(metric_key, method) suppression deadlines; the state
// label itself is an observability summary, not a gate beyond min_samples
// — per-method cooldowns are the actual suppression mechanism (spec.md
// §4.4: "the ensemble aggregate has its own cooldown independent of the
// per-model ones").
type trackState struct {
	state     string
	cooldowns map[string]time.Time
}

const (
	stateUntracked = "UNTRACKED"
	stateTracking  = "TRACKING"
	stateArmed     = "ARMED"
)

func newTrackState() *trackState {
	return &trackState{state: stateUntracked, cooldowns: make(map[string]time.Time)}
}

// coolingDown reports whether method is still suppressed for this metric
// at time now.
func (s *trackState) coolingDown(method string, now time.Time) bool {
	until, ok := s.cooldowns[method]
	return ok && now.Before(until)
}

// arm records that method fired at now, starting its cooldown window.
func (s *trackState) arm(method string, now time.Time, cooldown time.Duration) {
	s.cooldowns[method] = now.Add(cooldown)
}
