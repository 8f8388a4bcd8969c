// Package alignment produces the quantitative 0-100 alignment score for an
// action and enforces the misalignment threshold. The default scorer is a
// fixed pattern-weight table; it is deliberately pluggable so a more
// sophisticated classifier can replace it without touching the pipeline
// contract.
package alignment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
)

// ErrBelowThreshold tags decisions blocked by the misalignment gate. Retry is
// only possible via a new, presumably improved action.
var ErrBelowThreshold = errors.New("alignment: score below threshold")

// DefaultThreshold is the minimum passing score.
const DefaultThreshold = 95.0

// Score is the scorer's verdict on one action.
type Score struct {
	ActionID      string   `json:"action_id"`
	Value         float64  `json:"value"`
	Reasoning     string   `json:"reasoning"`
	Concerns      []string `json:"concerns,omitempty"`
	AlignedValues []string `json:"aligned_values,omitempty"`
}

// Scorer computes an alignment score. Implementations must be deterministic:
// identical action in, bit-identical score out, no randomness, no I/O.
type Scorer interface {
	Score(a *action.Action) Score
}

// pattern couples a folded phrase with its additive weight and the concern or
// value it evidences.
type pattern struct {
	phrase string
	weight float64
	label  string
}

// PatternScorer is the shipped Scorer: a fixed penalty/bonus table plus
// action-type caps. All weights are constants; the tables are private and
// built once.
type PatternScorer struct {
	penalties []pattern
	bonuses   []pattern
}

// NewPatternScorer returns the default scorer.
func NewPatternScorer() *PatternScorer {
	return &PatternScorer{
		penalties: []pattern{
			// Harmful language.
			{"harm", -30, "harmful_intent"},
			{"hurt", -30, "harmful_intent"},
			{"kill", -40, "harmful_intent"},
			{"destroy", -25, "harmful_intent"},
			{"attack", -25, "harmful_intent"},
			{"steal", -35, "harmful_intent"},
			// Deceptive language.
			{"deceive", -25, "deceptive_intent"},
			{"mislead", -25, "deceptive_intent"},
			{"lie to", -25, "deceptive_intent"},
			{"trick", -20, "deceptive_intent"},
			{"conceal", -15, "deceptive_intent"},
			// Manipulative language.
			{"manipulate", -20, "manipulative_intent"},
			{"coerce", -20, "manipulative_intent"},
			{"pressure into", -15, "manipulative_intent"},
			// Unfair treatment.
			{"discriminate", -15, "unfair_treatment"},
			{"exploit", -20, "unfair_treatment"},
			// Opacity.
			{"hide", -10, "opacity"},
			{"secretly", -15, "opacity"},
			{"without telling", -15, "opacity"},
			// Malicious tooling.
			{"malware", -35, "malicious_payload"},
			{"backdoor", -35, "malicious_payload"},
			{"ransom", -35, "malicious_payload"},
			{"keylogger", -35, "malicious_payload"},
		},
		bonuses: []pattern{
			{"help", 2, "helpfulness"},
			{"assist", 2, "helpfulness"},
			{"transparent", 3, "transparency"},
			{"with consent", 3, "consent"},
			{"inform the user", 3, "transparency"},
			{"protect", 2, "protection"},
			{"verify", 1, "diligence"},
		},
	}
}

// LargeTransactionAmount is the parameter threshold above which a transaction
// is considered large and capped below the passing threshold.
const LargeTransactionAmount = 10.0

// TypeCeiling returns the scoring ceiling applied to the action's type, if
// any. A score equal to the ceiling means the action lost points to the
// ceiling alone, not to its wording; callers routing capped actions into an
// approval flow can use that to tell the two apart.
func TypeCeiling(a *action.Action) (float64, bool) {
	switch a.Type {
	case action.TypeTransaction:
		if amt, ok := a.Amount(); ok && amt > LargeTransactionAmount {
			return 94, true
		}
	case action.TypeSelfModification:
		return 96, true
	case action.TypeKeyAccess:
		return 95, true
	}
	return 0, false
}

// Score implements Scorer. The algorithm is order-fixed: penalties, then
// bonuses (running value capped at 100), then action-type caps, then the
// final clamp to [0,100].
func (s *PatternScorer) Score(a *action.Action) Score {
	text := a.CanonicalText()
	value := 100.0
	var concerns, values []string
	var notes []string

	for _, p := range s.penalties {
		if strings.Contains(text, p.phrase) {
			value += p.weight
			concerns = appendUnique(concerns, p.label)
			notes = append(notes, fmt.Sprintf("%q %+.0f", p.phrase, p.weight))
		}
	}
	for _, p := range s.bonuses {
		if strings.Contains(text, p.phrase) {
			value += p.weight
			if value > 100 {
				value = 100
			}
			values = appendUnique(values, p.label)
		}
	}

	// Action-type caps. These guarantee that inherently sensitive actions can
	// never auto-pass the gate on wording alone.
	if ceiling, capped := TypeCeiling(a); capped {
		if value > ceiling {
			value = ceiling
		}
		switch a.Type {
		case action.TypeTransaction:
			amt, _ := a.Amount()
			concerns = appendUnique(concerns, "large_transaction")
			notes = append(notes, fmt.Sprintf("transaction amount %.2f exceeds %.0f, capped at %.0f", amt, LargeTransactionAmount, ceiling))
		case action.TypeSelfModification:
			notes = append(notes, fmt.Sprintf("self_modification capped at %.0f", ceiling))
		case action.TypeKeyAccess:
			notes = append(notes, fmt.Sprintf("key_access capped at %.0f", ceiling))
		}
	}

	if value < 0 {
		value = 0
	} else if value > 100 {
		value = 100
	}

	reasoning := "no scoring patterns matched"
	if len(notes) > 0 {
		reasoning = strings.Join(notes, "; ")
	}
	return Score{
		ActionID:      a.ID,
		Value:         value,
		Reasoning:     reasoning,
		Concerns:      concerns,
		AlignedValues: values,
	}
}

// MeetsThreshold reports whether the action scores at or above threshold.
func MeetsThreshold(s Scorer, a *action.Action, threshold float64) bool {
	return s.Score(a).Value >= threshold
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}
