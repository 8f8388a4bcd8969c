// Package approval implements the multi-signature approval workflow guarding
// sensitive operations, including the fixed 3-of-5 stakeholder consensus
// variant for superintelligent-tier capability increases.
package approval

import (
	"errors"
	"time"
)

// Sentinel errors for the approval state machine.
var (
	ErrOperationNotFound      = errors.New("approval: operation not found")
	ErrDuplicateApproval      = errors.New("approval: approver already voted")
	ErrOperationExpired       = errors.New("approval: operation expired")
	ErrInvalidStateTransition = errors.New("approval: invalid state transition")
	ErrConsensusRejected      = errors.New("approval: consensus rejected")
	ErrUnauthorizedApprover   = errors.New("approval: approver not authorized for operation")
)

// Status is an operation's lifecycle state. pending is the only state that
// accepts votes; executed is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
)

// Vote records one approver's decision.
type Vote struct {
	ApproverID string    `json:"approver_id"`
	Approved   bool      `json:"approved"`
	Timestamp  time.Time `json:"timestamp"`
}

// Config sizes an operation's approval quorum.
type Config struct {
	RequiredApprovals int           `json:"required_approvals"`
	TotalApprovers    int           `json:"total_approvers"`
	Approvers         []string      `json:"approvers"`
	Expiration        time.Duration `json:"expiration"`
}

// ConsensusConfig is the fixed 3-of-5 quorum gating capability increases into
// the superintelligent tier. Expiration defaults to 72 hours.
func ConsensusConfig(approvers [5]string) Config {
	return Config{
		RequiredApprovals: 3,
		TotalApprovers:    5,
		Approvers:         approvers[:],
		Expiration:        72 * time.Hour,
	}
}

// Operation is one pending decision awaiting signatures. All mutation goes
// through the Workflow, which serializes votes per operation id.
type Operation struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	ActionID    string    `json:"action_id"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Consensus   bool      `json:"consensus"`
	Config      Config    `json:"config"`
	Votes       []Vote    `json:"votes"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
}

// approvals counts approving votes.
func (o *Operation) approvals() int {
	n := 0
	for _, v := range o.Votes {
		if v.Approved {
			n++
		}
	}
	return n
}

// rejections counts rejecting votes.
func (o *Operation) rejections() int {
	n := 0
	for _, v := range o.Votes {
		if !v.Approved {
			n++
		}
	}
	return n
}

// voted reports whether the approver already cast any vote.
func (o *Operation) voted(approverID string) bool {
	for _, v := range o.Votes {
		if v.ApproverID == approverID {
			return true
		}
	}
	return false
}

// authorized reports whether the approver belongs to the operation's quorum.
// An empty approver list means any identity may vote.
func (o *Operation) authorized(approverID string) bool {
	if len(o.Config.Approvers) == 0 {
		return true
	}
	for _, id := range o.Config.Approvers {
		if id == approverID {
			return true
		}
	}
	return false
}

// expired reports whether the operation's deadline has passed.
func (o *Operation) expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// clone returns a detached copy safe to hand to callers.
func (o *Operation) clone() Operation {
	out := *o
	out.Votes = make([]Vote, len(o.Votes))
	copy(out.Votes, o.Votes)
	out.Config.Approvers = append([]string(nil), o.Config.Approvers...)
	return out
}
