package orchestrator

import (
	"fmt"

	"github.com/Aegis-Labs/aegis/core/pkg/action"
	"github.com/Aegis-Labs/aegis/core/pkg/approval"
	"github.com/Aegis-Labs/aegis/core/pkg/audit"
	"github.com/Aegis-Labs/aegis/core/pkg/capability"
	"github.com/Aegis-Labs/aegis/core/pkg/emergency"
)

// CapabilityRequest is the outcome of a capability-increase request. When
// Applied is false and OperationID is set, the increase is parked behind an
// approval operation; call ApplyApprovedIncrease once the quorum approves.
type CapabilityRequest struct {
	Applied     bool                    `json:"applied"`
	Level       capability.Level        `json:"level,omitempty"`
	Approval    capability.ApprovalKind `json:"approval"`
	OperationID string                  `json:"operation_id,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
}

// RegisterAgent creates an agent's initial capability level.
func (o *Orchestrator) RegisterAgent(agentID string, iq float64) (capability.Level, error) {
	level, err := o.capability.Register(agentID, iq)
	if err != nil {
		return capability.Level{}, err
	}
	_, _ = o.audit.RecordCapabilityChange(agentID, "register", map[string]any{
		"iq":   level.IQ,
		"tier": string(level.Tier),
	})
	return level, nil
}

// RequestCapabilityIncrease runs the growth gate. Increases within the rate
// limit that need no approval are applied immediately; those crossing a tier
// boundary (or creeping within 5% of one) get parked behind a human or
// stakeholder-consensus operation.
func (o *Orchestrator) RequestCapabilityIncrease(agentID string, requestedIQ float64) (CapabilityRequest, error) {
	result, err := o.capability.EnforceGate(agentID, requestedIQ)
	if err != nil {
		_, _ = o.audit.RecordCapabilityChange(agentID, "increase_denied", map[string]any{
			"requested_iq": requestedIQ,
			"reason":       result.Reason,
		})
		return CapabilityRequest{Approval: capability.ApprovalNone, Reason: result.Reason}, err
	}

	if !result.RequiresApproval {
		level, err := o.capability.ApplyIncrease(agentID, requestedIQ)
		if err != nil {
			return CapabilityRequest{}, err
		}
		_, _ = o.audit.RecordCapabilityChange(agentID, "increase_applied", map[string]any{
			"iq":   level.IQ,
			"tier": string(level.Tier),
		})
		return CapabilityRequest{Applied: true, Level: level, Approval: capability.ApprovalNone}, nil
	}

	a, err := action.New(agentID, action.TypeSelfModification,
		fmt.Sprintf("capability increase to iq %.1f", requestedIQ),
		map[string]any{"requested_iq": requestedIQ})
	if err != nil {
		return CapabilityRequest{}, err
	}

	var op approval.Operation
	if result.Approval == capability.ApprovalConsensus {
		op, err = o.workflow.NewStakeholderConsensus(agentID, a, o.stakeholders)
	} else {
		op, err = o.workflow.CreateOperation(agentID, a, o.quorum)
	}
	if err != nil {
		return CapabilityRequest{}, err
	}
	_, _ = o.audit.RecordMultiSigRequest(agentID, op.ID, map[string]any{
		"requested_iq": requestedIQ,
		"approval":     string(result.Approval),
		"consensus":    op.Consensus,
	})
	return CapabilityRequest{
		Approval:    result.Approval,
		OperationID: op.ID,
		Reason:      result.Reason,
	}, nil
}

// ApplyApprovedIncrease executes an approved capability operation and installs
// the new level. The workflow's Execute transition guarantees the operation is
// approved and consumed exactly once.
func (o *Orchestrator) ApplyApprovedIncrease(agentID, operationID string, requestedIQ float64) (capability.Level, error) {
	op, err := o.workflow.Execute(operationID)
	if err != nil {
		return capability.Level{}, err
	}
	if op.AgentID != agentID {
		return capability.Level{}, fmt.Errorf("orchestrator: operation %s belongs to agent %s", operationID, op.AgentID)
	}
	level, err := o.capability.ApplyIncrease(agentID, requestedIQ)
	if err != nil {
		// Approval consumed but the gate re-check failed (e.g. the ceiling
		// moved); the audit trail keeps both facts.
		_, _ = o.audit.RecordCapabilityChange(agentID, "increase_denied", map[string]any{
			"operation_id": operationID,
			"requested_iq": requestedIQ,
			"reason":       err.Error(),
		})
		return capability.Level{}, err
	}
	_, _ = o.audit.RecordCapabilityChange(agentID, "increase_applied", map[string]any{
		"operation_id": operationID,
		"iq":           level.IQ,
		"tier":         string(level.Tier),
	})
	return level, nil
}

// ResetCapability is the audited administrative rollback path.
func (o *Orchestrator) ResetCapability(agentID string, iq float64, by, reason string) (capability.Level, error) {
	level, err := o.capability.ResetLevel(agentID, iq, by, reason)
	if err != nil {
		return capability.Level{}, err
	}
	_, _ = o.audit.RecordCapabilityChange(agentID, "reset", map[string]any{
		"iq":     iq,
		"by":     by,
		"reason": reason,
	})
	return level, nil
}

// Approve casts one approving vote on a pending operation.
func (o *Orchestrator) Approve(operationID, approverID string) (approval.Operation, error) {
	op, err := o.workflow.Approve(operationID, approverID)
	if err != nil {
		return approval.Operation{}, err
	}
	_, _ = o.audit.RecordMultiSigApproval(op.AgentID, operationID, approverID, true)
	return op, nil
}

// Reject casts one rejecting vote on a pending operation.
func (o *Orchestrator) Reject(operationID, approverID string) (approval.Operation, error) {
	op, err := o.workflow.Reject(operationID, approverID)
	if err != nil {
		return approval.Operation{}, err
	}
	_, _ = o.audit.RecordMultiSigApproval(op.AgentID, operationID, approverID, false)
	return op, nil
}

// EmergencyStop raises a human stop and records it.
func (o *Orchestrator) EmergencyStop(triggeredBy, reason string, affectedAgents []string) (emergency.Stop, error) {
	stop, err := o.emergency.ActivateHuman(triggeredBy, reason, affectedAgents)
	if err != nil {
		return emergency.Stop{}, err
	}
	_, _ = o.audit.RecordEmergencyStop(triggeredBy, "activate", map[string]any{
		"stop_id": stop.ID,
		"kind":    string(stop.Kind),
		"reason":  reason,
	})
	return stop, nil
}

// ResolveStop resolves an active stop and records who cleared it.
func (o *Orchestrator) ResolveStop(stopID, by string) (emergency.Stop, error) {
	stop, err := o.emergency.Resolve(stopID, by)
	if err != nil {
		return emergency.Stop{}, err
	}
	_, _ = o.audit.RecordEmergencyStop(by, "resolve", map[string]any{
		"stop_id": stop.ID,
		"kind":    string(stop.Kind),
	})
	return stop, nil
}

// ConfirmHumanPresence restarts the dead-man window and records the check-in.
func (o *Orchestrator) ConfirmHumanPresence(by string) error {
	if err := o.emergency.ConfirmHumanPresence(by); err != nil {
		return err
	}
	_, _ = o.audit.Record(by, audit.KindEmergencyStop, "presence_confirmed", audit.OutcomeSuccess, nil)
	return nil
}

// RecordTransparency appends a transparency entry for an already-executed
// action, optionally carrying an on-chain transaction reference.
func (o *Orchestrator) RecordTransparency(agentID, operation string, parameters map[string]any, success bool, onChain bool, txSignature string) (audit.Entry, error) {
	outcome := audit.OutcomeSuccess
	if !success {
		outcome = audit.OutcomeFailure
	}
	return o.audit.RecordTransparency(agentID, operation, parameters, outcome, onChain, txSignature)
}
