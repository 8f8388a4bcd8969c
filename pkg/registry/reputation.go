package registry

import (
	"errors"
	"fmt"
	"time"
)

// Rating bounds.
const (
	MinRating = -100
	MaxRating = 100
)

// MaxCommentLen bounds a rating's free-text comment.
const MaxCommentLen = 500

var (
	ErrSelfRating    = errors.New("registry: agents cannot rate themselves")
	ErrRatingBounds  = errors.New("registry: rating out of bounds")
	ErrDuplicateRate = errors.New("registry: rater already rated this agent")
)

// Rating is one peer's assessment of an agent.
type Rating struct {
	RaterID   string    `json:"rater_id"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Rate records a peer rating. Self-rating is rejected; each rater gets one
// vote per agent.
func (r *Registry) Rate(agentID, raterID string, score int, comment string) error {
	if agentID == raterID {
		return ErrSelfRating
	}
	if score < MinRating || score > MaxRating {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrRatingBounds, score, MinRating, MaxRating)
	}
	if err := checkLen("comment", comment, MaxCommentLen); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentID]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	for _, existing := range r.reputation[agentID] {
		if existing.RaterID == raterID {
			return fmt.Errorf("%w: %s", ErrDuplicateRate, raterID)
		}
	}
	r.reputation[agentID] = append(r.reputation[agentID], Rating{
		RaterID:   raterID,
		Score:     score,
		Comment:   comment,
		Timestamp: r.clock(),
	})
	return nil
}

// Reputation returns the mean score, or ok=false when the agent has no
// ratings yet.
func (r *Registry) Reputation(agentID string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ratings := r.reputation[agentID]
	if len(ratings) == 0 {
		return 0, false
	}
	sum := 0
	for _, rating := range ratings {
		sum += rating.Score
	}
	return float64(sum) / float64(len(ratings)), true
}

// Ratings returns copies of the agent's ratings, oldest first.
func (r *Registry) Ratings(agentID string) []Rating {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rating, len(r.reputation[agentID]))
	copy(out, r.reputation[agentID])
	return out
}
