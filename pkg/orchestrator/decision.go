package orchestrator

import (
	"github.com/Aegis-Labs/aegis/core/pkg/constitution"
)

// GenericBlockedReason is the only explanation untrusted callers see for a
// blocked action. Internal reasons live in the audit log.
const GenericBlockedReason = "blocked by safety policy"

// Decision is the pipeline's verdict on one action. Blocking is data, not an
// error: callers branch on Allowed, errors are reserved for kernel faults.
type Decision struct {
	Allowed          bool                  `json:"allowed"`
	Violations       []constitution.Result `json:"violations,omitempty"`
	AlignmentScore   float64               `json:"alignment_score"`
	RequiresApproval bool                  `json:"requires_approval"`
	OperationID      string                `json:"operation_id,omitempty"`
	Reason           string                `json:"reason,omitempty"`
}

func blocked(score float64, violations []constitution.Result) Decision {
	return Decision{
		Allowed:        false,
		Violations:     violations,
		AlignmentScore: score,
		Reason:         GenericBlockedReason,
	}
}
