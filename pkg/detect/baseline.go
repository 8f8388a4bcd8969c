// Package detect holds the advisory analyzers: deception scoring against a
// fixed keyword taxonomy and anomaly scoring against a per-agent rolling
// behavioral baseline. Neither detector blocks on its own; the orchestrator
// decides what to do with their output.
package detect

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
)

const (
	// baselineWindow is the maximum number of recent actions retained per agent.
	baselineWindow = 100
	// baselineMinActions is the observation count below which no baseline
	// exists. Absence means "no anomaly possible yet", never a false positive.
	baselineMinActions = 10
)

// Baseline is a point-in-time statistical profile of an agent's recent
// behavior. It is a value snapshot: detectors working on it are unaffected by
// concurrent updates.
type Baseline struct {
	AgentID         string              `json:"agent_id"`
	ActionFrequency map[action.Type]int `json:"action_frequency"`
	TotalActions    int                 `json:"total_actions"`
	AvgParamCount   float64             `json:"avg_param_count"`
	StdParamCount   float64             `json:"std_param_count"`
	AvgDescLength   float64             `json:"avg_desc_length"`
	StdDescLength   float64             `json:"std_desc_length"`
	LastUpdated     time.Time           `json:"last_updated"`
}

// observation is the compact record kept per action.
type observation struct {
	typ        action.Type
	paramCount int
	descLength int
}

// BaselineTracker maintains rolling windows per agent and serves immutable
// snapshots. Updates are applied asynchronously: a slightly stale baseline is
// an acceptable false negative, never a safety violation.
type BaselineTracker struct {
	mu      sync.RWMutex
	windows map[string][]observation

	updates chan trackedAction
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

type trackedAction struct {
	agentID string
	obs     observation
}

// NewBaselineTracker starts the tracker's single consumer goroutine.
func NewBaselineTracker() *BaselineTracker {
	t := &BaselineTracker{
		windows: make(map[string][]observation),
		updates: make(chan trackedAction, 1024),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "baseline"),
	}
	go t.consume()
	return t
}

// Observe enqueues an action for baseline maintenance. It never blocks the
// hot path: when the queue is full the observation is dropped and logged.
func (t *BaselineTracker) Observe(a *action.Action) {
	ta := trackedAction{
		agentID: a.AgentID,
		obs: observation{
			typ:        a.Type,
			paramCount: len(a.Parameters),
			descLength: len(a.Description),
		},
	}
	select {
	case t.updates <- ta:
	default:
		t.logger.Warn("baseline queue full, observation dropped", "agent_id", a.AgentID)
	}
}

// ObserveSync applies an observation immediately. Used by tests and by
// callers that need a deterministic baseline state.
func (t *BaselineTracker) ObserveSync(a *action.Action) {
	t.apply(trackedAction{
		agentID: a.AgentID,
		obs: observation{
			typ:        a.Type,
			paramCount: len(a.Parameters),
			descLength: len(a.Description),
		},
	})
}

// Snapshot returns the agent's current baseline, or ok=false when fewer than
// the minimum number of actions have been observed.
func (t *BaselineTracker) Snapshot(agentID string) (Baseline, bool) {
	t.mu.RLock()
	window := t.windows[agentID]
	n := len(window)
	if n < baselineMinActions {
		t.mu.RUnlock()
		return Baseline{}, false
	}
	// Copy under the read lock; stats are computed lock-free on the copy.
	local := make([]observation, n)
	copy(local, window)
	t.mu.RUnlock()

	b := Baseline{
		AgentID:         agentID,
		ActionFrequency: make(map[action.Type]int, 8),
		TotalActions:    n,
		LastUpdated:     time.Now().UTC(),
	}
	var sumP, sumPSq, sumD, sumDSq float64
	for _, o := range local {
		b.ActionFrequency[o.typ]++
		sumP += float64(o.paramCount)
		sumPSq += float64(o.paramCount) * float64(o.paramCount)
		sumD += float64(o.descLength)
		sumDSq += float64(o.descLength) * float64(o.descLength)
	}
	fn := float64(n)
	b.AvgParamCount = sumP / fn
	b.StdParamCount = stddev(sumP, sumPSq, fn)
	b.AvgDescLength = sumD / fn
	b.StdDescLength = stddev(sumD, sumDSq, fn)
	return b, true
}

// Close stops the consumer goroutine. Pending queued updates are discarded.
func (t *BaselineTracker) Close() {
	t.once.Do(func() { close(t.done) })
}

func (t *BaselineTracker) consume() {
	for {
		select {
		case <-t.done:
			return
		case ta := <-t.updates:
			t.apply(ta)
		}
	}
}

func (t *BaselineTracker) apply(ta trackedAction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	window := append(t.windows[ta.agentID], ta.obs)
	if len(window) > baselineWindow {
		window = window[len(window)-baselineWindow:]
	}
	t.windows[ta.agentID] = window
}

// stddev estimates population standard deviation from running sums.
func stddev(sum, sumSq, n float64) float64 {
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
