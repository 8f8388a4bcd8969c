// Package registry tracks the agents subject to the kernel: identity,
// service surface, replication lineage and peer reputation. Records are
// size-bounded so a misbehaving agent cannot inflate registry state.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Field size limits.
const (
	MaxNameLen        = 50
	MaxDescriptionLen = 200
	MaxURILen         = 200
	MaxServices       = 10
	MaxServiceLen     = 50
)

var (
	ErrAgentNotFound = errors.New("registry: agent not found")
	ErrFieldTooLong  = errors.New("registry: field exceeds size limit")
)

// AgentRecord describes one registered agent. ReputationScore is the running
// kernel-maintained score (blocked attempts decrement it); peer ratings live
// separately and do not feed it.
type AgentRecord struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	URI             string    `json:"uri,omitempty"`
	Services        []string  `json:"services,omitempty"`
	Generation      int       `json:"generation"`
	ParentID        string    `json:"parent_id,omitempty"`
	ReputationScore int       `json:"reputation_score"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// Registry is the mutex-guarded in-memory agent store.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]AgentRecord

	reputation map[string][]Rating

	clock func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents:     make(map[string]AgentRecord),
		reputation: make(map[string][]Rating),
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a first-generation agent.
func (r *Registry) Register(name, description, uri string, services []string) (AgentRecord, error) {
	return r.register(name, description, uri, services, 0, "")
}

// RegisterChild adds an agent spawned by replication. The child's generation
// is the parent's plus one, preserving lineage for audit.
func (r *Registry) RegisterChild(parentID, name, description, uri string, services []string) (AgentRecord, error) {
	r.mu.RLock()
	parent, ok := r.agents[parentID]
	r.mu.RUnlock()
	if !ok {
		return AgentRecord{}, fmt.Errorf("%w: parent %s", ErrAgentNotFound, parentID)
	}
	return r.register(name, description, uri, services, parent.Generation+1, parentID)
}

func (r *Registry) register(name, description, uri string, services []string, generation int, parentID string) (AgentRecord, error) {
	if name == "" {
		return AgentRecord{}, fmt.Errorf("registry: name required")
	}
	if err := checkLen("name", name, MaxNameLen); err != nil {
		return AgentRecord{}, err
	}
	if err := checkLen("description", description, MaxDescriptionLen); err != nil {
		return AgentRecord{}, err
	}
	if err := checkLen("uri", uri, MaxURILen); err != nil {
		return AgentRecord{}, err
	}
	if len(services) > MaxServices {
		return AgentRecord{}, fmt.Errorf("%w: %d services, limit %d", ErrFieldTooLong, len(services), MaxServices)
	}
	for _, s := range services {
		if err := checkLen("service", s, MaxServiceLen); err != nil {
			return AgentRecord{}, err
		}
	}

	record := AgentRecord{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  description,
		URI:          uri,
		Services:     append([]string(nil), services...),
		Generation:   generation,
		ParentID:     parentID,
		RegisteredAt: r.clock(),
	}
	r.mu.Lock()
	r.agents[record.ID] = record
	r.mu.Unlock()
	return record, nil
}

// Ensure returns the agent's record, creating a minimal generation-zero
// record keyed by the agent's own identity on first sight. Used by the
// evaluation pipeline so every evaluated agent has a directory entry.
func (r *Registry) Ensure(agentID string) (AgentRecord, error) {
	if agentID == "" {
		return AgentRecord{}, fmt.Errorf("registry: agent id required")
	}
	if err := checkLen("name", agentID, MaxNameLen); err != nil {
		return AgentRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.agents[agentID]; ok {
		return record, nil
	}
	record := AgentRecord{
		ID:           agentID,
		Name:         agentID,
		RegisteredAt: r.clock(),
	}
	r.agents[agentID] = record
	return record, nil
}

// Adjust moves the agent's kernel-maintained reputation score by delta,
// clamped to the rating bounds, and returns the new score.
func (r *Registry) Adjust(agentID string, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.agents[agentID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	score := record.ReputationScore + delta
	if score < MinRating {
		score = MinRating
	} else if score > MaxRating {
		score = MaxRating
	}
	record.ReputationScore = score
	r.agents[agentID] = record
	return score, nil
}

// Get returns the agent record.
func (r *Registry) Get(agentID string) (AgentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.agents[agentID]
	if !ok {
		return AgentRecord{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	record.Services = append([]string(nil), record.Services...)
	return record, nil
}

// Lineage walks from the agent to its root ancestor, nearest first.
func (r *Registry) Lineage(agentID string) ([]AgentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentRecord, 0)
	id := agentID
	for id != "" {
		record, ok := r.agents[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		out = append(out, record)
		id = record.ParentID
	}
	return out, nil
}

// All returns every record.
func (r *Registry) All() []AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentRecord, 0, len(r.agents))
	for _, record := range r.agents {
		out = append(out, record)
	}
	return out
}

func checkLen(field, value string, limit int) error {
	if len(value) > limit {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFieldTooLong, field, len(value), limit)
	}
	return nil
}
