package constitution

import (
	"fmt"
	"strings"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
)

// KeywordMatcher fails an action whose canonical text contains any forbidden
// phrase. Phrases are stored pre-folded; the action side is folded by
// CanonicalText, so matching is case-insensitive and normalization-resistant.
type KeywordMatcher struct {
	Forbidden []string
}

// Evaluate implements Matcher.
func (m KeywordMatcher) Evaluate(a *action.Action) (bool, string) {
	text := a.CanonicalText()
	for _, phrase := range m.Forbidden {
		if strings.Contains(text, phrase) {
			return false, fmt.Sprintf("matched forbidden phrase %q", phrase)
		}
	}
	return true, ""
}

// RequiredDisclosureMatcher fails key-access actions that do not declare a
// purpose parameter. Transparency about why a key is touched is mandatory.
type RequiredDisclosureMatcher struct{}

// Evaluate implements Matcher.
func (RequiredDisclosureMatcher) Evaluate(a *action.Action) (bool, string) {
	if a.Type != action.TypeKeyAccess {
		return true, ""
	}
	if p, ok := a.Parameters["purpose"].(string); !ok || strings.TrimSpace(p) == "" {
		return false, "key_access without a declared purpose"
	}
	return true, ""
}

// mandatoryRules returns the five rules that ship pre-registered with every
// engine. They cannot be removed or reprioritized below extras because the
// engine freezes the combined set at construction.
func mandatoryRules() []Rule {
	return []Rule{
		{
			ID: "rule-001", Name: "never-harm-humans", Priority: 1, Severity: SeverityCritical,
			Matcher: KeywordMatcher{Forbidden: []string{
				"harm human", "hurt human", "kill", "injure", "attack person",
				"steal", "defraud", "poison", "endanger",
			}},
		},
		{
			ID: "rule-002", Name: "maximize-human-flourishing", Priority: 2, Severity: SeverityHigh,
			Matcher: KeywordMatcher{Forbidden: []string{
				"against user interest", "exploit user", "degrade wellbeing",
				"drain funds", "sabotage",
			}},
		},
		{
			ID: "rule-003", Name: "maintain-human-agency", Priority: 3, Severity: SeverityCritical,
			Matcher: KeywordMatcher{Forbidden: []string{
				"without consent", "bypass approval", "disable oversight",
				"remove human", "ignore operator", "override safety",
			}},
		},
		{
			ID: "rule-004", Name: "ensure-transparency", Priority: 4, Severity: SeverityHigh,
			Matcher: chain{
				KeywordMatcher{Forbidden: []string{
					"hide from operator", "conceal from", "delete audit", "falsify log",
				}},
				RequiredDisclosureMatcher{},
			},
		},
		{
			ID: "rule-005", Name: "never-reveal-private-keys", Priority: 5, Severity: SeverityCritical,
			Matcher: KeywordMatcher{Forbidden: []string{
				"reveal private key", "export private key", "exfiltrate key",
				"share seed phrase", "leak credential", "send private key",
			}},
		},
	}
}

// chain ANDs several matchers; the first failure wins.
type chain []Matcher

func (c chain) Evaluate(a *action.Action) (bool, string) {
	for _, m := range c {
		if passed, reason := m.Evaluate(a); !passed {
			return false, reason
		}
	}
	return true, ""
}
