package constitution

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
)

// CELMatcher evaluates a compiled CEL expression against the action view.
// The expression must return bool; true means the rule passes. Expressions
// are compiled once at construction with a hard cost limit so a pathological
// policy cannot stall the pipeline.
type CELMatcher struct {
	expr string
	prg  cel.Program
}

// NewCELMatcher compiles expr in an environment exposing the action as a
// dynamic map plus its folded text and unix timestamp.
func NewCELMatcher(expr string) (*CELMatcher, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.DynType),
		cel.Variable("text", cel.StringType),
		cel.Variable("timestamp", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("constitution: cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("constitution: compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("constitution: program %q: %w", expr, err)
	}
	return &CELMatcher{expr: expr, prg: prg}, nil
}

// Evaluate implements Matcher. Evaluation errors fail closed.
func (m *CELMatcher) Evaluate(a *action.Action) (bool, string) {
	input := map[string]any{
		"action": map[string]any{
			"agent_id":    a.AgentID,
			"type":        string(a.Type),
			"description": a.Description,
			"parameters":  a.Parameters,
			"context":     a.Context,
		},
		"text":      a.CanonicalText(),
		"timestamp": a.Timestamp.Unix(),
	}
	out, _, err := m.prg.Eval(input)
	if err != nil {
		return false, fmt.Sprintf("cel evaluation failed (denied): %v", err)
	}
	passed, ok := out.Value().(bool)
	if !ok {
		return false, "cel expression did not return bool (denied)"
	}
	if !passed {
		return false, fmt.Sprintf("cel rule %q failed", m.expr)
	}
	return true, ""
}

// CELRule is a convenience constructor for an extra rule backed by a CEL
// expression.
func CELRule(id, name string, priority int, severity Severity, expr string) (Rule, error) {
	m, err := NewCELMatcher(expr)
	if err != nil {
		return Rule{}, err
	}
	return Rule{ID: id, Name: name, Priority: priority, Severity: severity, Matcher: m}, nil
}
