package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// inboundSchema validates action submissions arriving from external callers
// (channel adapters, the app backend). Structural problems here are genuine
// input errors, distinct from safety denials.
const inboundSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["agent_id", "type", "description"],
  "properties": {
    "agent_id": {"type": "string", "minLength": 1},
    "type": {
      "type": "string",
      "enum": ["inference", "transaction", "self_modification", "replication",
               "tool_execution", "message", "state_change", "key_access",
               "constitution_query"]
    },
    "description": {"type": "string", "maxLength": 4096},
    "parameters": {"type": "object"},
    "context": {"type": "string", "maxLength": 16384},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": false
}`

var compiledInbound = jsonschema.MustCompileString("aegis://schemas/action.json", inboundSchema)

// ParseInbound validates raw JSON against the action schema and constructs an
// immutable Action from it.
func ParseInbound(raw []byte) (*Action, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("action: invalid JSON: %w", err)
	}
	if err := compiledInbound.Validate(doc); err != nil {
		return nil, fmt.Errorf("action: schema validation: %w", err)
	}

	var in struct {
		AgentID     string         `json:"agent_id"`
		Type        Type           `json:"type"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
		Context     string         `json:"context"`
		Timestamp   time.Time      `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("action: decode: %w", err)
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return NewAt(in.AgentID, in.Type, in.Description, in.Parameters, in.Context, ts)
}
