// Package capability limits how fast an agent's declared capability level may
// grow. The gate itself is a pure function over a level snapshot; the
// controller serializes check-and-apply per agent so two concurrent requests
// cannot both slip under the growth ceiling.
package capability

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrRateExceeded tags requests rejected by the hard growth ceiling. No
// approval path exists for these; the agent must wait.
var ErrRateExceeded = errors.New("capability: growth rate exceeded")

// ErrUnknownAgent is returned for agents never registered with the controller.
var ErrUnknownAgent = errors.New("capability: unknown agent")

// DailyGrowthLimit is the fraction by which IQ may grow per elapsed day.
const DailyGrowthLimit = 0.10

// boundaryCreepFraction: requests landing within this fraction of the tier's
// upper bound require approval even without crossing it.
const boundaryCreepFraction = 0.05

// Tier is a banded range of declared capability with an associated approval
// requirement.
type Tier string

const (
	TierBasic            Tier = "basic"
	TierIntermediate     Tier = "intermediate"
	TierAdvanced         Tier = "advanced"
	TierSuperintelligent Tier = "superintelligent"
)

// ConsensusTierMinIQ is the IQ at which increases require stakeholder
// consensus rather than a single human approver.
const ConsensusTierMinIQ = 1000.0

// TierFor maps an IQ value onto its tier. Ranges are fixed, contiguous and
// non-overlapping.
func TierFor(iq float64) Tier {
	switch {
	case iq < 200:
		return TierBasic
	case iq < 500:
		return TierIntermediate
	case iq < ConsensusTierMinIQ:
		return TierAdvanced
	default:
		return TierSuperintelligent
	}
}

// UpperBound returns the tier's exclusive upper IQ bound. The top tier has
// none.
func (t Tier) UpperBound() (float64, bool) {
	switch t {
	case TierBasic:
		return 200, true
	case TierIntermediate:
		return 500, true
	case TierAdvanced:
		return ConsensusTierMinIQ, true
	default:
		return 0, false
	}
}

// ApprovalKind is the kind of sign-off an allowed-with-approval increase
// needs before it may be applied.
type ApprovalKind string

const (
	ApprovalNone      ApprovalKind = "none"
	ApprovalHuman     ApprovalKind = "human"
	ApprovalConsensus ApprovalKind = "stakeholder_consensus"
)

// Level is an immutable capability snapshot. Increases supersede the old
// level rather than editing it, so history replays cleanly.
type Level struct {
	AgentID        string    `json:"agent_id"`
	IQ             float64   `json:"iq"`
	Tier           Tier      `json:"tier"`
	LastIncreaseAt time.Time `json:"last_increase_at"`
	IncreaseRate   float64   `json:"increase_rate"`
}

// NewLevel builds the initial level for an agent.
func NewLevel(agentID string, iq float64, now time.Time) Level {
	return Level{
		AgentID:        agentID,
		IQ:             iq,
		Tier:           TierFor(iq),
		LastIncreaseAt: now.UTC(),
	}
}

// Ceiling is the maximum IQ the growth limit permits at the given instant.
func (l Level) Ceiling(now time.Time) float64 {
	elapsed := now.Sub(l.LastIncreaseAt).Hours() / 24
	if elapsed < 0 {
		elapsed = 0
	}
	return l.IQ * (1 + DailyGrowthLimit*elapsed)
}

// GateResult is the gate's verdict on one requested increase.
type GateResult struct {
	Allowed          bool         `json:"allowed"`
	RequiresApproval bool         `json:"requires_approval"`
	Approval         ApprovalKind `json:"approval"`
	Reason           string       `json:"reason,omitempty"`
	Ceiling          float64      `json:"ceiling"`
}

// Enforce evaluates a requested IQ against a level snapshot. It is a pure
// function: callers needing atomicity go through the Controller.
func Enforce(current Level, requestedIQ float64, now time.Time) GateResult {
	ceiling := current.Ceiling(now)
	result := GateResult{Ceiling: ceiling, Approval: ApprovalNone}

	if requestedIQ > ceiling {
		result.Reason = fmt.Sprintf(
			"requested iq %.1f exceeds growth ceiling %.1f (limit is 10%% per day from iq %.1f)",
			requestedIQ, ceiling, current.IQ)
		return result
	}

	requestedTier := TierFor(requestedIQ)
	switch {
	case requestedTier != current.Tier:
		result.Allowed = true
		result.RequiresApproval = true
		result.Reason = fmt.Sprintf("tier boundary crossing %s -> %s requires approval", current.Tier, requestedTier)
	case withinBoundaryCreep(requestedIQ, requestedTier):
		result.Allowed = true
		result.RequiresApproval = true
		bound, _ := requestedTier.UpperBound()
		result.Reason = fmt.Sprintf("requested iq %.1f is within 5%% of the %s tier bound %.0f", requestedIQ, requestedTier, bound)
	default:
		result.Allowed = true
	}

	if result.RequiresApproval {
		if requestedIQ >= ConsensusTierMinIQ {
			result.Approval = ApprovalConsensus
		} else {
			result.Approval = ApprovalHuman
		}
	}
	return result
}

func withinBoundaryCreep(iq float64, tier Tier) bool {
	bound, ok := tier.UpperBound()
	if !ok {
		return false
	}
	return iq >= bound*(1-boundaryCreepFraction) && !math.IsNaN(iq)
}
