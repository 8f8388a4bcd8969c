package audit

// Specialized writers per operation kind. All funnel through Record so every
// entry shares the same schema and chain.

// RecordAuthentication witnesses an agent identity check.
func (l *Log) RecordAuthentication(agentID, operation string, success bool, details map[string]any) (Entry, error) {
	return l.Record(agentID, KindAuthentication, operation, outcomeFor(success), details)
}

// RecordAuthorization witnesses a permission check.
func (l *Log) RecordAuthorization(agentID, operation string, success bool, details map[string]any) (Entry, error) {
	return l.Record(agentID, KindAuthorization, operation, outcomeFor(success), details)
}

// RecordKeyAccess witnesses access to key material.
func (l *Log) RecordKeyAccess(agentID, operation string, success bool, details map[string]any) (Entry, error) {
	return l.Record(agentID, KindKeyAccess, operation, outcomeFor(success), details)
}

// RecordConstitutionalCheck witnesses one full rule evaluation.
func (l *Log) RecordConstitutionalCheck(agentID, actionID string, passed bool, violations []string) (Entry, error) {
	outcome := OutcomeSuccess
	if !passed {
		outcome = OutcomeBlocked
	}
	details := map[string]any{"action_id": actionID, "passed": passed}
	if len(violations) > 0 {
		vs := make([]any, len(violations))
		for i, v := range violations {
			vs[i] = v
		}
		details["violations"] = vs
	}
	return l.Record(agentID, KindConstitutionalCheck, "constitutional_check", outcome, details)
}

// RecordViolationAttempt witnesses a blocked misalignment attempt.
func (l *Log) RecordViolationAttempt(agentID, operation string, details map[string]any) (Entry, error) {
	return l.Record(agentID, KindViolationAttempt, operation, OutcomeBlocked, details)
}

// RecordMultiSigRequest witnesses the opening of an approval operation.
func (l *Log) RecordMultiSigRequest(agentID, operationID string, details map[string]any) (Entry, error) {
	details = withDetail(details, "operation_id", operationID)
	return l.Record(agentID, KindMultiSigRequest, "multi_sig_request", OutcomeSuccess, details)
}

// RecordMultiSigApproval witnesses one vote on an approval operation.
func (l *Log) RecordMultiSigApproval(agentID, operationID, approverID string, approved bool) (Entry, error) {
	return l.Record(agentID, KindMultiSigApproval, "multi_sig_approval", outcomeFor(approved), map[string]any{
		"operation_id": operationID,
		"approver_id":  approverID,
		"approved":     approved,
	})
}

// RecordPromptInjection witnesses a detected injection attempt.
func (l *Log) RecordPromptInjection(agentID, operation string, details map[string]any) (Entry, error) {
	return l.Record(agentID, KindPromptInjection, operation, OutcomeBlocked, details)
}

// RecordEmergencyStop witnesses activation or resolution of a stop.
func (l *Log) RecordEmergencyStop(triggeredBy, operation string, details map[string]any) (Entry, error) {
	return l.Record(triggeredBy, KindEmergencyStop, operation, OutcomeSuccess, details)
}

// RecordCapabilityChange witnesses an applied increase or an administrative
// reset.
func (l *Log) RecordCapabilityChange(agentID, operation string, details map[string]any) (Entry, error) {
	return l.Record(agentID, KindCapabilityChange, operation, OutcomeSuccess, details)
}

// RecordTransparency links an audit entry to an external transaction
// reference after an on-chain side effect completes.
func (l *Log) RecordTransparency(agentID, operation string, parameters map[string]any, outcome Outcome, onChain bool, txSignature string) (Entry, error) {
	details := map[string]any{
		"parameters": parameters,
		"on_chain":   onChain,
	}
	if txSignature != "" {
		details["tx_signature"] = txSignature
	}
	return l.Record(agentID, KindTransparency, operation, outcome, details)
}

// RecordDecision witnesses the orchestrator's final verdict on an action.
func (l *Log) RecordDecision(agentID, actionID string, allowed bool, details map[string]any) (Entry, error) {
	details = withDetail(details, "action_id", actionID)
	outcome := OutcomeSuccess
	if !allowed {
		outcome = OutcomeBlocked
	}
	return l.Record(agentID, KindDecision, "evaluate", outcome, details)
}

func outcomeFor(success bool) Outcome {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// withDetail copies the caller's details map before adding a key, so writers
// never mutate their arguments.
func withDetail(details map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
