package approval

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
)

// DefaultTransferThreshold is the transaction amount above which multi-sig
// approval is mandatory, unless the workflow is built with a different one.
const DefaultTransferThreshold = 1.0

// DefaultExpiration bounds how long a plain operation stays votable.
const DefaultExpiration = 60 * time.Minute

// Clock abstracts time for tests.
type Clock func() time.Time

// Workflow owns every operation and serializes votes per operation id.
type Workflow struct {
	mu    sync.RWMutex
	ops   map[string]*operationState
	clock Clock

	transferThreshold float64

	logger *slog.Logger
}

type operationState struct {
	mu sync.Mutex
	op Operation
}

// NewWorkflow builds an empty workflow. A nil clock defaults to UTC now; a
// non-positive transfer threshold gets the default.
func NewWorkflow(clock Clock, transferThreshold float64) *Workflow {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if transferThreshold <= 0 {
		transferThreshold = DefaultTransferThreshold
	}
	return &Workflow{
		ops:               make(map[string]*operationState),
		clock:             clock,
		transferThreshold: transferThreshold,
		logger:            slog.Default().With("component", "approval"),
	}
}

// TransferThreshold returns the transaction amount above which this workflow
// demands multi-sig approval.
func (w *Workflow) TransferThreshold() float64 { return w.transferThreshold }

// RequiresMultiSig reports whether an action may only execute behind an
// approved operation: transfers above the configured threshold, key access,
// constitution modification, and self-modification aimed at the safety
// machinery itself.
func (w *Workflow) RequiresMultiSig(a *action.Action) bool {
	switch a.Type {
	case action.TypeTransaction:
		amt, ok := a.Amount()
		return ok && amt > w.transferThreshold
	case action.TypeKeyAccess:
		return true
	case action.TypeConstitutionQuery:
		return isModifying(a)
	case action.TypeSelfModification:
		return targetsSafetyMachinery(a)
	default:
		return false
	}
}

func isModifying(a *action.Action) bool {
	if v, ok := a.Parameters["modify"].(bool); ok && v {
		return true
	}
	text := a.CanonicalText()
	return strings.Contains(text, "modify") || strings.Contains(text, "amend")
}

func targetsSafetyMachinery(a *action.Action) bool {
	text := a.CanonicalText()
	for _, phrase := range []string{"capability gate", "capability_gate", "emergency stop", "emergency_stop"} {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// CreateOperation opens a pending operation for the action. Invalid quorum
// shapes are rejected at creation time.
func (w *Workflow) CreateOperation(agentID string, a *action.Action, cfg Config) (Operation, error) {
	return w.create(agentID, a, cfg, false)
}

// NewStakeholderConsensus opens a fixed 3-of-5 consensus operation.
func (w *Workflow) NewStakeholderConsensus(agentID string, a *action.Action, approvers [5]string) (Operation, error) {
	return w.create(agentID, a, ConsensusConfig(approvers), true)
}

func (w *Workflow) create(agentID string, a *action.Action, cfg Config, consensus bool) (Operation, error) {
	if agentID == "" {
		return Operation{}, fmt.Errorf("approval: empty agent id")
	}
	if cfg.RequiredApprovals < 1 {
		return Operation{}, fmt.Errorf("approval: required approvals must be positive")
	}
	if cfg.TotalApprovers < cfg.RequiredApprovals {
		return Operation{}, fmt.Errorf("approval: total approvers %d below required %d", cfg.TotalApprovers, cfg.RequiredApprovals)
	}
	if len(cfg.Approvers) > 0 && len(cfg.Approvers) != cfg.TotalApprovers {
		return Operation{}, fmt.Errorf("approval: approver list size %d does not match total %d", len(cfg.Approvers), cfg.TotalApprovers)
	}
	// A roster with a blank identity can never gather its quorum; reject it
	// here rather than strand a permanently unapprovable operation.
	for _, id := range cfg.Approvers {
		if strings.TrimSpace(id) == "" {
			return Operation{}, fmt.Errorf("approval: blank approver identity in quorum")
		}
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}

	now := w.clock()
	op := Operation{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		ActionID:    a.ID,
		Description: a.Description,
		Status:      StatusPending,
		Consensus:   consensus,
		Config:      cfg,
		CreatedAt:   now,
		ExpiresAt:   now.Add(cfg.Expiration),
	}
	w.mu.Lock()
	w.ops[op.ID] = &operationState{op: op}
	w.mu.Unlock()

	w.logger.Info("operation created",
		"operation_id", op.ID,
		"agent_id", agentID,
		"required", cfg.RequiredApprovals,
		"total", cfg.TotalApprovers,
		"consensus", consensus,
	)
	return op.clone(), nil
}

// Get returns a detached copy of the operation, applying lazy expiry first.
func (w *Workflow) Get(opID string) (Operation, error) {
	state, err := w.state(opID)
	if err != nil {
		return Operation{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	w.expireLocked(state)
	return state.op.clone(), nil
}

// Approve appends an approving vote. Once approvals reach the required count
// the operation flips to approved.
func (w *Workflow) Approve(opID, approverID string) (Operation, error) {
	return w.vote(opID, approverID, true)
}

// Reject appends a rejecting vote. Plain operations reject on the first
// rejection; consensus operations reject only once rejections exceed
// total - required, making approval impossible.
func (w *Workflow) Reject(opID, approverID string) (Operation, error) {
	return w.vote(opID, approverID, false)
}

func (w *Workflow) vote(opID, approverID string, approve bool) (Operation, error) {
	state, err := w.state(opID)
	if err != nil {
		return Operation{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	op := &state.op
	now := w.clock()

	if op.Status == StatusPending && op.expired(now) {
		op.Status = StatusRejected
		op.ResolvedAt = now
		return op.clone(), fmt.Errorf("%w: operation %s", ErrOperationExpired, opID)
	}
	if op.Status != StatusPending {
		return op.clone(), fmt.Errorf("%w: operation %s is %s, not pending", ErrInvalidStateTransition, opID, op.Status)
	}
	if !op.authorized(approverID) {
		return op.clone(), fmt.Errorf("%w: %s", ErrUnauthorizedApprover, approverID)
	}
	if op.voted(approverID) {
		return op.clone(), fmt.Errorf("%w: %s on operation %s", ErrDuplicateApproval, approverID, opID)
	}

	op.Votes = append(op.Votes, Vote{ApproverID: approverID, Approved: approve, Timestamp: now})

	if approve {
		if op.approvals() >= op.Config.RequiredApprovals {
			op.Status = StatusApproved
			op.ResolvedAt = now
			w.logger.Info("operation approved", "operation_id", opID, "approvals", op.approvals())
		}
		return op.clone(), nil
	}

	if op.Consensus {
		// Rejection threshold: once more than total-required stakeholders
		// reject, the required quorum can no longer form.
		if op.rejections() > op.Config.TotalApprovers-op.Config.RequiredApprovals {
			op.Status = StatusRejected
			op.ResolvedAt = now
			w.logger.Warn("consensus rejected", "operation_id", opID, "rejections", op.rejections())
			return op.clone(), fmt.Errorf("%w: operation %s", ErrConsensusRejected, opID)
		}
		return op.clone(), nil
	}

	// Plain operations favor caution: one rejection kills the operation.
	op.Status = StatusRejected
	op.ResolvedAt = now
	w.logger.Warn("operation rejected", "operation_id", opID, "approver_id", approverID)
	return op.clone(), nil
}

// Execute transitions an approved operation to executed, its terminal state.
func (w *Workflow) Execute(opID string) (Operation, error) {
	state, err := w.state(opID)
	if err != nil {
		return Operation{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	op := &state.op
	w.expireLocked(state)
	switch op.Status {
	case StatusApproved:
		op.Status = StatusExecuted
		op.ResolvedAt = w.clock()
		w.logger.Info("operation executed", "operation_id", opID)
		return op.clone(), nil
	case StatusRejected:
		if op.Consensus {
			return op.clone(), fmt.Errorf("%w: operation %s", ErrConsensusRejected, opID)
		}
		return op.clone(), fmt.Errorf("%w: operation %s is rejected, not approved", ErrInvalidStateTransition, opID)
	default:
		return op.clone(), fmt.Errorf("%w: operation %s is %s, not approved", ErrInvalidStateTransition, opID, op.Status)
	}
}

// CanProceed is the single predicate external callers should use: the action
// either needs no multi-sig, or its referenced operation is approved or
// already executed.
func (w *Workflow) CanProceed(a *action.Action, opID string) bool {
	if !w.RequiresMultiSig(a) {
		return true
	}
	if opID == "" {
		return false
	}
	op, err := w.Get(opID)
	if err != nil {
		return false
	}
	return op.Status == StatusApproved || op.Status == StatusExecuted
}

// Pending returns detached copies of every still-pending operation.
func (w *Workflow) Pending() []Operation {
	w.mu.RLock()
	states := make([]*operationState, 0, len(w.ops))
	for _, s := range w.ops {
		states = append(states, s)
	}
	w.mu.RUnlock()

	out := make([]Operation, 0)
	for _, s := range states {
		s.mu.Lock()
		w.expireLocked(s)
		if s.op.Status == StatusPending {
			out = append(out, s.op.clone())
		}
		s.mu.Unlock()
	}
	return out
}

// SweepExpired proactively flips expired pending operations to rejected so
// query results stay accurate without waiting for access. Returns the number
// of operations flipped.
func (w *Workflow) SweepExpired() int {
	w.mu.RLock()
	states := make([]*operationState, 0, len(w.ops))
	for _, s := range w.ops {
		states = append(states, s)
	}
	w.mu.RUnlock()

	n := 0
	for _, s := range states {
		s.mu.Lock()
		if s.op.Status == StatusPending && w.expireLocked(s) {
			n++
		}
		s.mu.Unlock()
	}
	if n > 0 {
		w.logger.Info("expired operations swept", "count", n)
	}
	return n
}

func (w *Workflow) state(opID string) (*operationState, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	state, ok := w.ops[opID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, opID)
	}
	return state, nil
}

// expireLocked flips a pending-but-expired operation to rejected. Caller
// holds state.mu.
func (w *Workflow) expireLocked(state *operationState) bool {
	if state.op.Status == StatusPending && state.op.expired(w.clock()) {
		state.op.Status = StatusRejected
		state.op.ResolvedAt = w.clock()
		return true
	}
	return false
}
