package detect

import (
	"fmt"
	"strings"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
)

// AnomalyThreshold is the total deviation score at or above which an action
// counts as anomalous.
const AnomalyThreshold = 2.0

const (
	rareTypeFraction = 0.05
	rareTypeWeight   = 1.5
	sigmaLimit       = 2.0
	descLenWeight    = 0.1
)

// Deviation is one way the action departs from the agent's baseline.
type Deviation struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
	Detail    string  `json:"detail"`
}

// AnomalyReport is the detector's verdict for one action against one baseline
// snapshot. Total is the sum of deviation scores; Anomalous is Total >=
// AnomalyThreshold. When no baseline exists every field is zero and Anomalous
// is false.
type AnomalyReport struct {
	ActionID    string      `json:"action_id"`
	AgentID     string      `json:"agent_id"`
	HasBaseline bool        `json:"has_baseline"`
	Total       float64     `json:"total"`
	Anomalous   bool        `json:"anomalous"`
	Deviations  []Deviation `json:"deviations,omitempty"`
	Reasoning   string      `json:"reasoning"`
}

// AnomalyDetector compares actions with baseline snapshots. It holds no
// state; the same action and baseline always yield the same report.
type AnomalyDetector struct {
	tracker *BaselineTracker
}

// NewAnomalyDetector wires a detector to a tracker. A nil tracker gets a
// fresh one.
func NewAnomalyDetector(tracker *BaselineTracker) *AnomalyDetector {
	if tracker == nil {
		tracker = NewBaselineTracker()
	}
	return &AnomalyDetector{tracker: tracker}
}

// Tracker exposes the underlying baseline tracker so the orchestrator can
// feed it decided actions.
func (d *AnomalyDetector) Tracker() *BaselineTracker { return d.tracker }

// Analyze fetches the agent's baseline and scores the action against it.
func (d *AnomalyDetector) Analyze(a *action.Action) AnomalyReport {
	baseline, ok := d.tracker.Snapshot(a.AgentID)
	if !ok {
		return AnomalyReport{
			ActionID:  a.ID,
			AgentID:   a.AgentID,
			Reasoning: "insufficient history, no baseline established",
		}
	}
	return AnalyzeAgainst(a, baseline)
}

// AnalyzeAgainst scores the action against an explicit baseline snapshot.
func AnalyzeAgainst(a *action.Action, b Baseline) AnomalyReport {
	report := AnomalyReport{
		ActionID:    a.ID,
		AgentID:     a.AgentID,
		HasBaseline: true,
	}

	// Rare action type: seen in under 5% of the window (including never).
	freq := float64(b.ActionFrequency[a.Type]) / float64(b.TotalActions)
	if freq < rareTypeFraction {
		report.Deviations = append(report.Deviations, Deviation{
			Dimension: "action_type",
			Score:     rareTypeWeight,
			Detail:    fmt.Sprintf("type %q seen in %.1f%% of recent actions", a.Type, freq*100),
		})
	}

	// Parameter count beyond two standard deviations of the mean.
	if b.StdParamCount > 0 {
		z := (float64(len(a.Parameters)) - b.AvgParamCount) / b.StdParamCount
		if z > sigmaLimit || z < -sigmaLimit {
			score := z
			if score < 0 {
				score = -score
			}
			report.Deviations = append(report.Deviations, Deviation{
				Dimension: "param_count",
				Score:     score,
				Detail:    fmt.Sprintf("%d parameters, baseline %.1f±%.1f", len(a.Parameters), b.AvgParamCount, b.StdParamCount),
			})
		}
	}

	// Description length beyond two standard deviations, down-weighted because
	// verbosity alone is weak evidence.
	if b.StdDescLength > 0 {
		z := (float64(len(a.Description)) - b.AvgDescLength) / b.StdDescLength
		if z > sigmaLimit || z < -sigmaLimit {
			score := z
			if score < 0 {
				score = -score
			}
			report.Deviations = append(report.Deviations, Deviation{
				Dimension: "desc_length",
				Score:     score * descLenWeight,
				Detail:    fmt.Sprintf("description length %d, baseline %.1f±%.1f", len(a.Description), b.AvgDescLength, b.StdDescLength),
			})
		}
	}

	var notes []string
	for _, dev := range report.Deviations {
		report.Total += dev.Score
		notes = append(notes, dev.Detail)
	}
	report.Anomalous = report.Total >= AnomalyThreshold

	if len(notes) == 0 {
		report.Reasoning = "behavior consistent with baseline"
	} else {
		report.Reasoning = strings.Join(notes, "; ")
	}
	return report
}
