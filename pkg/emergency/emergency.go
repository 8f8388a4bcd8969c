// Package emergency implements the system's fail-closed backstop: a shared
// stop state fed by three independent activation paths (human, automatic,
// dead-man switch). While any stop is active every evaluation must be
// blocked, regardless of all other stages.
package emergency

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for stop lifecycle misuse.
var (
	ErrStopNotFound   = errors.New("emergency: stop not found")
	ErrAlreadyStopped = errors.New("emergency: stop already resolved")
)

// Kind names the activation path that raised a stop.
type Kind string

const (
	KindHuman     Kind = "human_activated"
	KindAutomatic Kind = "automatic"
	KindDeadMan   Kind = "dead_man_switch"
)

// Status is a stop's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// DefaultPresenceInterval is how long the system tolerates the absence of a
// human presence confirmation before the dead-man switch fires.
const DefaultPresenceInterval = 24 * time.Hour

// AutomaticScoreLimit is the alignment score below which sustained behavior
// triggers an automatic stop.
const AutomaticScoreLimit = 90.0

// sustainedWindow is how many consecutive sub-limit scores count as
// sustained.
const sustainedWindow = 3

// Stop is one emergency stop record.
type Stop struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	TriggeredBy    string    `json:"triggered_by"`
	Reason         string    `json:"reason"`
	AffectedAgents []string  `json:"affected_agents,omitempty"`
	AlignmentScore float64   `json:"alignment_score,omitempty"`
	Status         Status    `json:"status"`
	ActivatedAt    time.Time `json:"activated_at"`
	ResolvedAt     time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string    `json:"resolved_by,omitempty"`
}

// Clock abstracts time for tests.
type Clock func() time.Time

// Controller holds the shared stop state. The global flag is true whenever at
// least one stop is active; it clears only when every stop is resolved.
type Controller struct {
	mu    sync.Mutex
	stops map[string]*Stop
	order []string

	presenceInterval time.Duration
	lastPresence     time.Time
	presenceBy       string

	scores map[string][]float64

	clock  Clock
	logger *slog.Logger
}

// NewController builds a controller. A zero interval gets the 24h default;
// the presence window starts at construction time.
func NewController(presenceInterval time.Duration, clock Clock) *Controller {
	if presenceInterval <= 0 {
		presenceInterval = DefaultPresenceInterval
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{
		stops:            make(map[string]*Stop),
		presenceInterval: presenceInterval,
		lastPresence:     clock(),
		scores:           make(map[string][]float64),
		clock:            clock,
		logger:           slog.Default().With("component", "emergency"),
	}
}

// ActivateHuman raises a stop on behalf of a human operator.
func (c *Controller) ActivateHuman(triggeredBy, reason string, affectedAgents []string) (Stop, error) {
	if triggeredBy == "" {
		return Stop{}, fmt.Errorf("emergency: human activation requires an operator identity")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateLocked(Stop{
		Kind:           KindHuman,
		TriggeredBy:    triggeredBy,
		Reason:         reason,
		AffectedAgents: append([]string(nil), affectedAgents...),
	}), nil
}

// ActivateAutomatic raises a stop because an agent's alignment collapsed.
func (c *Controller) ActivateAutomatic(agentID string, alignmentScore float64, reason string) (Stop, error) {
	if agentID == "" {
		return Stop{}, fmt.Errorf("emergency: automatic activation requires an agent id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateLocked(Stop{
		Kind:           KindAutomatic,
		TriggeredBy:    agentID,
		Reason:         reason,
		AffectedAgents: []string{agentID},
		AlignmentScore: alignmentScore,
	}), nil
}

// ObserveScore feeds one alignment score into the sustained-collapse window.
// When the last few scores are all below the limit it raises an automatic
// stop and returns it.
func (c *Controller) ObserveScore(agentID string, score float64) (Stop, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := append(c.scores[agentID], score)
	if len(window) > sustainedWindow {
		window = window[len(window)-sustainedWindow:]
	}
	c.scores[agentID] = window

	if len(window) < sustainedWindow {
		return Stop{}, false
	}
	for _, s := range window {
		if s >= AutomaticScoreLimit {
			return Stop{}, false
		}
	}
	c.scores[agentID] = nil
	stop := c.activateLocked(Stop{
		Kind:           KindAutomatic,
		TriggeredBy:    agentID,
		Reason:         fmt.Sprintf("alignment score below %.0f for %d consecutive actions", AutomaticScoreLimit, sustainedWindow),
		AffectedAgents: []string{agentID},
		AlignmentScore: score,
	})
	return stop, true
}

// ConfirmHumanPresence restarts the dead-man window.
func (c *Controller) ConfirmHumanPresence(by string) error {
	if by == "" {
		return fmt.Errorf("emergency: presence confirmation requires an identity")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPresence = c.clock()
	c.presenceBy = by
	c.logger.Info("human presence confirmed", "by", by)
	return nil
}

// CheckDeadManSwitch fires a stop if no presence confirmation arrived within
// the interval. Evaluated lazily on access; callers may also drive it from a
// periodic timer. At most one dead-man stop is active at a time.
func (c *Controller) CheckDeadManSwitch() (Stop, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clock().Sub(c.lastPresence) <= c.presenceInterval {
		return Stop{}, false
	}
	for _, id := range c.order {
		s := c.stops[id]
		if s.Kind == KindDeadMan && s.Status == StatusActive {
			return *s, false
		}
	}
	stop := c.activateLocked(Stop{
		Kind:        KindDeadMan,
		TriggeredBy: "dead_man_switch",
		Reason:      fmt.Sprintf("no human presence confirmation within %s", c.presenceInterval),
	})
	return stop, true
}

// Resolve marks one stop resolved. The global flag clears only when no
// active stops remain.
func (c *Controller) Resolve(stopID, by string) (Stop, error) {
	if by == "" {
		return Stop{}, fmt.Errorf("emergency: resolution requires an identity")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stop, ok := c.stops[stopID]
	if !ok {
		return Stop{}, fmt.Errorf("%w: %s", ErrStopNotFound, stopID)
	}
	if stop.Status == StatusResolved {
		return *stop, fmt.Errorf("%w: %s", ErrAlreadyStopped, stopID)
	}
	stop.Status = StatusResolved
	stop.ResolvedAt = c.clock()
	stop.ResolvedBy = by
	c.logger.Info("emergency stop resolved", "stop_id", stopID, "by", by, "still_active", c.activeCountLocked())
	return *stop, nil
}

// Active reports the global stop flag. It runs the lazy dead-man check
// first, so a stale presence window blocks immediately on access.
func (c *Controller) Active() bool {
	c.CheckDeadManSwitch()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeCountLocked() > 0
}

// ActiveStops returns copies of every active stop, oldest first.
func (c *Controller) ActiveStops() []Stop {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Stop, 0)
	for _, id := range c.order {
		if s := c.stops[id]; s.Status == StatusActive {
			out = append(out, *s)
		}
	}
	return out
}

// History returns copies of every stop ever raised, oldest first.
func (c *Controller) History() []Stop {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Stop, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.stops[id])
	}
	return out
}

func (c *Controller) activateLocked(stop Stop) Stop {
	stop.ID = uuid.New().String()
	stop.Status = StatusActive
	stop.ActivatedAt = c.clock()
	c.stops[stop.ID] = &stop
	c.order = append(c.order, stop.ID)
	c.logger.Error("emergency stop activated",
		"stop_id", stop.ID,
		"kind", string(stop.Kind),
		"triggered_by", stop.TriggeredBy,
		"reason", stop.Reason,
	)
	return stop
}

func (c *Controller) activeCountLocked() int {
	n := 0
	for _, s := range c.stops {
		if s.Status == StatusActive {
			n++
		}
	}
	return n
}
