package alignment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
)

// MisalignmentAttempt is the permanent record of a blocked sub-threshold
// action.
type MisalignmentAttempt struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	ActionID  string    `json:"action_id"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	Blocked   bool      `json:"blocked"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// AttemptStore persists misalignment attempts. Storage is mandatory and must
// succeed even when alerting fails.
type AttemptStore interface {
	Save(attempt MisalignmentAttempt) error
	ByAgent(agentID string) []MisalignmentAttempt
	All() []MisalignmentAttempt
}

// MemoryAttemptStore is the default in-memory AttemptStore.
type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts []MisalignmentAttempt
}

// NewMemoryAttemptStore creates an empty store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: make([]MisalignmentAttempt, 0)}
}

// Save implements AttemptStore.
func (s *MemoryAttemptStore) Save(attempt MisalignmentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

// ByAgent implements AttemptStore.
func (s *MemoryAttemptStore) ByAgent(agentID string) []MisalignmentAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MisalignmentAttempt, 0)
	for _, a := range s.attempts {
		if a.AgentID == agentID {
			out = append(out, a)
		}
	}
	return out
}

// All implements AttemptStore.
func (s *MemoryAttemptStore) All() []MisalignmentAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MisalignmentAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// Gate blocks actions scoring below the threshold, records the attempt, and
// raises alerts.
type Gate struct {
	scorer     Scorer
	threshold  float64
	store      AttemptStore
	dispatcher *Dispatcher
}

// NewGate wires a gate. Nil store/dispatcher get in-memory and console
// defaults.
func NewGate(scorer Scorer, threshold float64, store AttemptStore, dispatcher *Dispatcher) *Gate {
	if scorer == nil {
		scorer = NewPatternScorer()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if store == nil {
		store = NewMemoryAttemptStore()
	}
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	return &Gate{scorer: scorer, threshold: threshold, store: store, dispatcher: dispatcher}
}

// Threshold returns the configured passing score.
func (g *Gate) Threshold() float64 { return g.threshold }

// Check scores the action. When the score is below the threshold the attempt
// is stored (mandatory) and alerts are dispatched (best-effort), and blocked
// is true.
func (g *Gate) Check(ctx context.Context, a *action.Action) (Score, *MisalignmentAttempt, error) {
	score := g.scorer.Score(a)
	if score.Value >= g.threshold {
		return score, nil, nil
	}

	attempt := MisalignmentAttempt{
		ID:        uuid.New().String(),
		AgentID:   a.AgentID,
		ActionID:  a.ID,
		Score:     score.Value,
		Threshold: g.threshold,
		Blocked:   true,
		Reason:    score.Reasoning,
		Timestamp: time.Now().UTC(),
	}
	if err := g.store.Save(attempt); err != nil {
		// Storage is mandatory; surface the failure so the orchestrator can
		// fail closed and audit it.
		return score, &attempt, err
	}

	severity := AlertWarning
	if score.Value < 50 {
		severity = AlertCritical
	}
	g.dispatcher.Dispatch(ctx, Alert{
		AgentID:   a.AgentID,
		Operation: string(a.Type),
		Severity:  severity,
		Reason:    score.Reasoning,
		Timestamp: attempt.Timestamp,
	})

	return score, &attempt, nil
}
