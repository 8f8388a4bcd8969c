// Package constitution implements the first, non-bypassable stage of the
// safety pipeline: a frozen, priority-ordered rule set evaluated against the
// canonical text view of every action. Rules are pure functions; the engine
// has no side effects and no runtime mutation path.
package constitution

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
)

// ErrRuleViolation tags decisions denied by a constitutional rule. It is
// never retried: a violating action stays violating.
var ErrRuleViolation = errors.New("constitution: rule violation")

// Severity grades a rule failure.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Matcher evaluates one rule against an action. Implementations must be pure:
// identical action in, identical verdict out.
type Matcher interface {
	Evaluate(a *action.Action) (passed bool, reason string)
}

// Rule is a single constitutional rule. Lower Priority evaluates first.
type Rule struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Priority int      `json:"priority"`
	Severity Severity `json:"severity"`
	Matcher  Matcher  `json:"-"`
}

// Result is the verdict of one rule on one action.
type Result struct {
	RuleID   string   `json:"rule_id"`
	RuleName string   `json:"rule_name"`
	ActionID string   `json:"action_id"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason,omitempty"`
}

// Engine holds the frozen rule set. The slice is copied and sorted at
// construction; there is no method that adds, removes, or reorders rules
// afterwards, and nothing in an Action's content can disable a rule.
type Engine struct {
	rules       []Rule
	version     *semver.Version
	contentHash string
}

// NewEngine builds an engine from the five mandatory rules plus any extra
// rules. Version must be valid semver; it is stamped into audit entries so a
// decision can always be tied to the exact rule set that produced it.
func NewEngine(version string, extra ...Rule) (*Engine, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("constitution: invalid version %q: %w", version, err)
	}

	rules := append(mandatoryRules(), extra...)
	for _, r := range rules {
		if r.ID == "" || r.Matcher == nil {
			return nil, fmt.Errorf("constitution: rule %q missing id or matcher", r.Name)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	hash, err := contentHash(rules, v.String())
	if err != nil {
		return nil, err
	}
	return &Engine{rules: rules, version: v, contentHash: hash}, nil
}

// Enforce evaluates every rule in ascending priority order and returns the
// full result set. It never short-circuits: the audit trail records the
// verdict of each rule even when an earlier rule already failed.
func (e *Engine) Enforce(a *action.Action) []Result {
	results := make([]Result, 0, len(e.rules))
	for _, r := range e.rules {
		passed, reason := r.Matcher.Evaluate(a)
		results = append(results, Result{
			RuleID:   r.ID,
			RuleName: r.Name,
			ActionID: a.ID,
			Passed:   passed,
			Severity: r.Severity,
			Reason:   reason,
		})
	}
	return results
}

// IsAllowed is the conjunction of all rule verdicts.
func (e *Engine) IsAllowed(a *action.Action) bool {
	for _, res := range e.Enforce(a) {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Violations filters a result set down to failures.
func Violations(results []Result) []Result {
	out := make([]Result, 0)
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Version returns the semver of the active rule set.
func (e *Engine) Version() string { return e.version.String() }

// ContentHash returns the content-addressed identity of the rule set,
// "sha256:<hex>" over the canonical rule descriptors.
func (e *Engine) ContentHash() string { return e.contentHash }

// Rules returns a copy of the rule descriptors (matchers excluded).
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	for i := range out {
		out[i].Matcher = nil
	}
	return out
}

func contentHash(rules []Rule, version string) (string, error) {
	type descriptor struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Priority int      `json:"priority"`
		Severity Severity `json:"severity"`
	}
	descs := make([]descriptor, len(rules))
	for i, r := range rules {
		descs[i] = descriptor{r.ID, r.Name, r.Priority, r.Severity}
	}
	raw, err := json.Marshal(struct {
		Version string       `json:"version"`
		Rules   []descriptor `json:"rules"`
	}{version, descs})
	if err != nil {
		return "", fmt.Errorf("constitution: marshal descriptors: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("constitution: canonicalize descriptors: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
