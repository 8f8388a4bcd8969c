package detect

import (
	"fmt"
	"strings"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
)

// DeceptionDetectedThreshold is the probability at or above which an action
// counts as deceptive.
const DeceptionDetectedThreshold = 0.3

// DeceptionSignal is one matched indicator category with its contribution.
type DeceptionSignal struct {
	Category string  `json:"category"`
	Phrase   string  `json:"phrase"`
	Weight   float64 `json:"weight"`
}

// DeceptionReport is the detector's verdict. Probability is in [0,1];
// Detected is Probability >= DeceptionDetectedThreshold.
type DeceptionReport struct {
	ActionID    string            `json:"action_id"`
	Probability float64           `json:"probability"`
	Detected    bool              `json:"detected"`
	Signals     []DeceptionSignal `json:"signals,omitempty"`
	Reasoning   string            `json:"reasoning"`
}

// indicatorCategory groups phrases that evidence one kind of deception. A
// category contributes its weight at most once no matter how many of its
// phrases match.
type indicatorCategory struct {
	name    string
	weight  float64
	phrases []string
}

// DeceptionDetector scores the probability that an action's stated intent is
// deceptive. It is deterministic: same action, same report.
type DeceptionDetector struct {
	categories []indicatorCategory
}

// NewDeceptionDetector returns the detector with the shipped taxonomy.
func NewDeceptionDetector() *DeceptionDetector {
	return &DeceptionDetector{
		categories: []indicatorCategory{
			{
				name:   "concealment",
				weight: 0.35,
				phrases: []string{
					"hide", "conceal", "cover up", "don't tell", "do not tell",
					"without telling", "keep this quiet", "off the record",
				},
			},
			{
				name:   "misdirection",
				weight: 0.35,
				phrases: []string{
					"pretend", "disguise", "fake", "impersonate", "pose as",
					"make it look like", "appear to be",
				},
			},
			{
				name:   "falsification",
				weight: 0.4,
				phrases: []string{
					"falsify", "fabricate", "forge", "tamper", "alter the record",
					"backdate", "doctored",
				},
			},
			{
				name:   "oversight evasion",
				weight: 0.45,
				phrases: []string{
					"bypass", "evade detection", "avoid audit", "disable logging",
					"without approval", "circumvent", "around the review",
				},
			},
			{
				name:   "social engineering",
				weight: 0.3,
				phrases: []string{
					"convince them it's safe", "gain their trust", "phish",
					"pretext", "urgently act now",
				},
			},
		},
	}
}

// Analyze evaluates the action's canonical text against the taxonomy. The sum
// of matched category weights is capped at 1.0.
func (d *DeceptionDetector) Analyze(a *action.Action) DeceptionReport {
	text := a.CanonicalText()
	report := DeceptionReport{ActionID: a.ID}

	var notes []string
	for _, cat := range d.categories {
		for _, phrase := range cat.phrases {
			if strings.Contains(text, phrase) {
				report.Probability += cat.weight
				report.Signals = append(report.Signals, DeceptionSignal{
					Category: cat.name,
					Phrase:   phrase,
					Weight:   cat.weight,
				})
				notes = append(notes, fmt.Sprintf("%s (%q)", cat.name, phrase))
				break // one hit per category
			}
		}
	}
	if report.Probability > 1.0 {
		report.Probability = 1.0
	}
	report.Detected = report.Probability >= DeceptionDetectedThreshold

	if len(notes) == 0 {
		report.Reasoning = "no deception indicators matched"
	} else {
		report.Reasoning = "matched indicators: " + strings.Join(notes, ", ")
	}
	return report
}
