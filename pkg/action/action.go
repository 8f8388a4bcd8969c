// Package action defines the shared vocabulary consumed by every stage of the
// safety pipeline: the Action an agent proposes, its canonical serialized
// view, and its content-addressed identity.
package action

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Type categorizes what an agent wants to do.
type Type string

const (
	TypeInference         Type = "inference"
	TypeTransaction       Type = "transaction"
	TypeSelfModification  Type = "self_modification"
	TypeReplication       Type = "replication"
	TypeToolExecution     Type = "tool_execution"
	TypeMessage           Type = "message"
	TypeStateChange       Type = "state_change"
	TypeKeyAccess         Type = "key_access"
	TypeConstitutionQuery Type = "constitution_query"
)

// AllTypes lists every valid action type.
var AllTypes = []Type{
	TypeInference, TypeTransaction, TypeSelfModification, TypeReplication,
	TypeToolExecution, TypeMessage, TypeStateChange, TypeKeyAccess,
	TypeConstitutionQuery,
}

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	for _, k := range AllTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Action is a single proposed agent operation. It is immutable once created:
// New deep-copies the parameter map and every consumer works on value copies.
// There is no override field anywhere in the schema — content placed in
// Context is evaluated exactly like any other text.
type Action struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Type        Type           `json:"type"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Context     string         `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// New constructs an immutable Action. The ID is derived deterministically
// from the canonical content hash, so identical inputs produce identical IDs.
func New(agentID string, typ Type, description string, params map[string]any) (*Action, error) {
	return NewAt(agentID, typ, description, params, "", time.Now().UTC())
}

// NewAt is New with explicit context text and timestamp, for replay and tests.
func NewAt(agentID string, typ Type, description string, params map[string]any, context string, ts time.Time) (*Action, error) {
	if agentID == "" {
		return nil, fmt.Errorf("action: agent_id must not be empty")
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("action: unknown type %q", typ)
	}
	a := &Action{
		AgentID:     agentID,
		Type:        typ,
		Description: description,
		Parameters:  copyParams(params),
		Context:     context,
		Timestamp:   ts.UTC(),
	}
	hash, err := a.ContentHash()
	if err != nil {
		return nil, err
	}
	a.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(hash)).String()
	return a, nil
}

// Clone returns an independent copy; mutating the clone never affects the
// original.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	c := *a
	c.Parameters = copyParams(a.Parameters)
	return &c
}

// ContentHash returns "sha256:<hex>" over the RFC 8785 canonical form of the
// action body (ID excluded, since the ID is derived from this hash).
func (a *Action) ContentHash() (string, error) {
	body := struct {
		AgentID     string         `json:"agent_id"`
		Type        Type           `json:"type"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters,omitempty"`
		Context     string         `json:"context,omitempty"`
		Timestamp   time.Time      `json:"timestamp"`
	}{a.AgentID, a.Type, a.Description, a.Parameters, a.Context, a.Timestamp}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("action: marshal for hash: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("action: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// CanonicalText returns the case-folded, NFKC-normalized text view that rule
// matchers and scorers evaluate. It covers type, description, parameters
// (keys and values, keys sorted) and context, so no field can carry content
// that escapes matching.
func (a *Action) CanonicalText() string {
	var b strings.Builder
	b.WriteString(string(a.Type))
	b.WriteByte(' ')
	b.WriteString(a.Description)
	if len(a.Parameters) > 0 {
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(' ')
			b.WriteString(k)
			b.WriteByte('=')
			fmt.Fprintf(&b, "%v", a.Parameters[k])
		}
	}
	if a.Context != "" {
		b.WriteByte(' ')
		b.WriteString(a.Context)
	}
	return Fold(b.String())
}

// Fold normalizes text for matching: NFKC normalization then lower-casing.
// Matching is case-insensitive and cannot be evaded with compatibility
// codepoints.
func Fold(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// Amount extracts a numeric "amount" parameter, if present. JSON numbers
// arrive as float64; integer literals from native callers are widened.
func (a *Action) Amount() (float64, bool) {
	v, ok := a.Parameters["amount"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func copyParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyParams(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
