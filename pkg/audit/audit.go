// Package audit is the append-only, hash-chained record of every decision
// the kernel makes. Entries are immutable once recorded; each entry chains to
// its predecessor so tampering is detectable, and redaction happens only at
// emission boundaries, never on the authoritative in-memory record.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Kind categorizes an entry by the operation it witnesses.
type Kind string

const (
	KindAuthentication      Kind = "authentication"
	KindAuthorization       Kind = "authorization"
	KindKeyAccess           Kind = "key_access"
	KindConstitutionalCheck Kind = "constitutional_check"
	KindViolationAttempt    Kind = "violation_attempt"
	KindMultiSigRequest     Kind = "multi_sig_request"
	KindMultiSigApproval    Kind = "multi_sig_approval"
	KindPromptInjection     Kind = "prompt_injection_detected"
	KindEmergencyStop       Kind = "emergency_stop"
	KindCapabilityChange    Kind = "capability_change"
	KindTransparency        Kind = "transparency"
	KindDecision            Kind = "decision"
)

// Outcome is the result class of the witnessed operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeBlocked Outcome = "blocked"
)

// Entry is one immutable audit record.
type Entry struct {
	ID          string         `json:"id"`
	Sequence    uint64         `json:"sequence"`
	Timestamp   time.Time      `json:"timestamp"`
	AgentID     string         `json:"agent_id"`
	Kind        Kind           `json:"kind"`
	Operation   string         `json:"operation"`
	Outcome     Outcome        `json:"outcome"`
	Details     map[string]any `json:"details,omitempty"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
}

// Clock abstracts time for tests.
type Clock func() time.Time

// Log is the append-only audit log. A single mutex serializes appends so
// sequence numbers and the hash chain stay consistent under concurrent
// writers.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    Clock

	sinks  *sinkDispatcher
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock for tests.
func WithClock(clock Clock) Option {
	return func(l *Log) { l.clock = clock }
}

// WithSinks attaches durable sinks. Writes to sinks are asynchronous and off
// the hot path; failures are logged, never dropped silently.
func WithSinks(sinks ...Sink) Option {
	return func(l *Log) { l.sinks = newSinkDispatcher(sinks) }
}

// NewLog creates an empty log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		entries:  make([]Entry, 0),
		headHash: "genesis",
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   slog.Default().With("component", "audit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an entry and returns the frozen stored copy. Mutating the
// returned entry (or the caller's original) never affects the stored record.
func (l *Log) Record(agentID string, kind Kind, operation string, outcome Outcome, details map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	entry := Entry{
		ID:        uuid.New().String(),
		Sequence:  seq,
		Timestamp: l.clock(),
		AgentID:   agentID,
		Kind:      kind,
		Operation: operation,
		Outcome:   outcome,
		Details:   copyDetails(details),
		PrevHash:  l.headHash,
	}
	hash, err := entryHash(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: hash entry: %w", err)
	}
	entry.ContentHash = hash

	l.entries = append(l.entries, entry)
	l.headHash = hash

	if l.sinks != nil {
		l.sinks.enqueue(entry.clone())
	}
	return entry.clone(), nil
}

// Len returns the number of recorded entries. It is monotonically
// non-decreasing within a process lifetime.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the current chain head hash.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// All returns detached copies of every entry in insertion order.
func (l *Log) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// Verify walks the chain and reports the first inconsistency found.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := "genesis"
	for i, entry := range l.entries {
		if entry.PrevHash != prev {
			return fmt.Errorf("audit: chain broken at sequence %d: expected prev %s, got %s", i+1, prev, entry.PrevHash)
		}
		stripped := entry
		stripped.ContentHash = ""
		computed, err := entryHash(stripped)
		if err != nil {
			return fmt.Errorf("audit: rehash sequence %d: %w", i+1, err)
		}
		if computed != entry.ContentHash {
			return fmt.Errorf("audit: hash mismatch at sequence %d", i+1)
		}
		prev = entry.ContentHash
	}
	return nil
}

// Close flushes and closes attached sinks.
func (l *Log) Close() error {
	if l.sinks == nil {
		return nil
	}
	return l.sinks.close()
}

func (e Entry) clone() Entry {
	out := e
	out.Details = copyDetails(e.Details)
	return out
}

func entryHash(e Entry) (string, error) {
	hashInput := struct {
		Sequence  uint64         `json:"sequence"`
		Timestamp time.Time      `json:"timestamp"`
		AgentID   string         `json:"agent_id"`
		Kind      Kind           `json:"kind"`
		Operation string         `json:"operation"`
		Outcome   Outcome        `json:"outcome"`
		Details   map[string]any `json:"details,omitempty"`
		PrevHash  string         `json:"prev"`
	}{e.Sequence, e.Timestamp, e.AgentID, e.Kind, e.Operation, e.Outcome, e.Details, e.PrevHash}

	canonical, err := canonicalJSON(hashInput)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

func copyDetails(in map[string]any) map[string]any {
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
		return copyDetails(t)
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
