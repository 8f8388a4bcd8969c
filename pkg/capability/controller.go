package capability

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Clock abstracts time for tests.
type Clock func() time.Time

// Controller owns every agent's capability state. Check-and-apply runs under
// a per-agent lock so concurrent requests serialize instead of both slipping
// under the ceiling.
type Controller struct {
	mu      sync.Mutex
	levels  map[string]Level
	history map[string][]Level
	locks   map[string]*sync.Mutex
	clock   Clock
	logger  *slog.Logger
}

// NewController builds an empty controller. A nil clock defaults to UTC now.
func NewController(clock Clock) *Controller {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{
		levels:  make(map[string]Level),
		history: make(map[string][]Level),
		locks:   make(map[string]*sync.Mutex),
		clock:   clock,
		logger:  slog.Default().With("component", "capability"),
	}
}

// Register creates an agent's initial level. Registering an existing agent is
// an error; levels only change through the gate or an explicit reset.
func (c *Controller) Register(agentID string, iq float64) (Level, error) {
	if agentID == "" {
		return Level{}, fmt.Errorf("capability: empty agent id")
	}
	if iq < 0 {
		return Level{}, fmt.Errorf("capability: negative iq %.1f", iq)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.levels[agentID]; exists {
		return Level{}, fmt.Errorf("capability: agent %s already registered", agentID)
	}
	level := NewLevel(agentID, iq, c.clock())
	c.levels[agentID] = level
	c.history[agentID] = []Level{level}
	c.locks[agentID] = &sync.Mutex{}
	return level, nil
}

// Current returns the agent's live level.
func (c *Controller) Current(agentID string) (Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	level, ok := c.levels[agentID]
	if !ok {
		return Level{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return level, nil
}

// History returns every level the agent has held, oldest first.
func (c *Controller) History(agentID string) []Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.history[agentID]
	out := make([]Level, len(h))
	copy(out, h)
	return out
}

// EnforceGate evaluates a requested increase under the agent's lock.
func (c *Controller) EnforceGate(agentID string, requestedIQ float64) (GateResult, error) {
	lock, err := c.agentLock(agentID)
	if err != nil {
		return GateResult{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	current, err := c.Current(agentID)
	if err != nil {
		return GateResult{}, err
	}
	result := Enforce(current, requestedIQ, c.clock())
	if !result.Allowed {
		return result, fmt.Errorf("%w: %s", ErrRateExceeded, result.Reason)
	}
	return result, nil
}

// ApplyIncrease atomically re-checks the gate and installs the new level.
// Increases that still require approval must be applied through this method
// only after the approval workflow reports the operation approved.
func (c *Controller) ApplyIncrease(agentID string, requestedIQ float64) (Level, error) {
	lock, err := c.agentLock(agentID)
	if err != nil {
		return Level{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	current, err := c.Current(agentID)
	if err != nil {
		return Level{}, err
	}
	if requestedIQ < current.IQ {
		return Level{}, fmt.Errorf("capability: iq may not decrease via increase path (have %.1f, requested %.1f)", current.IQ, requestedIQ)
	}
	now := c.clock()
	result := Enforce(current, requestedIQ, now)
	if !result.Allowed {
		return Level{}, fmt.Errorf("%w: %s", ErrRateExceeded, result.Reason)
	}

	next := Level{
		AgentID:        agentID,
		IQ:             requestedIQ,
		Tier:           TierFor(requestedIQ),
		LastIncreaseAt: now.UTC(),
		IncreaseRate:   increaseRate(current, requestedIQ, now),
	}
	c.install(next)
	c.logger.Info("capability increased",
		"agent_id", agentID,
		"from_iq", current.IQ,
		"to_iq", requestedIQ,
		"tier", next.Tier,
	)
	return next, nil
}

// ResetLevel is the administrative rollback path: it installs a new level at
// the given IQ, which may be lower than the current one. Callers are expected
// to audit the reset with the operator identity and reason.
func (c *Controller) ResetLevel(agentID string, iq float64, by, reason string) (Level, error) {
	if by == "" {
		return Level{}, fmt.Errorf("capability: reset requires an operator identity")
	}
	lock, err := c.agentLock(agentID)
	if err != nil {
		return Level{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	current, err := c.Current(agentID)
	if err != nil {
		return Level{}, err
	}
	next := NewLevel(agentID, iq, c.clock())
	c.install(next)
	c.logger.Warn("capability reset",
		"agent_id", agentID,
		"from_iq", current.IQ,
		"to_iq", iq,
		"by", by,
		"reason", reason,
	)
	return next, nil
}

func (c *Controller) agentLock(agentID string) (*sync.Mutex, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return lock, nil
}

func (c *Controller) install(next Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels[next.AgentID] = next
	c.history[next.AgentID] = append(c.history[next.AgentID], next)
}

func increaseRate(current Level, requestedIQ float64, now time.Time) float64 {
	elapsed := now.Sub(current.LastIncreaseAt).Hours() / 24
	if elapsed <= 0 || current.IQ == 0 {
		return 0
	}
	return (requestedIQ - current.IQ) / current.IQ / elapsed
}
