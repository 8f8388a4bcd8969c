// Package auth identifies the humans interacting with the kernel: approvers
// voting on operations, operators confirming presence and resolving stops.
// Agents are not principals; they are subjects of evaluation.
package auth

import "errors"

// ErrUnauthorizedAccess is returned when a caller lacks permission on a
// stateful resource.
var ErrUnauthorizedAccess = errors.New("auth: unauthorized access")

// Role scopes what a principal may do.
type Role string

const (
	// RoleApprover may vote on multi-sig operations.
	RoleApprover Role = "approver"
	// RoleOperator may confirm presence, resolve stops and reset capability.
	RoleOperator Role = "operator"
	// RoleAuditor may read and export the audit log.
	RoleAuditor Role = "auditor"
)

// Principal is an authenticated human identity.
type Principal struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Roles []Role `json:"roles"`
}

// HasRole reports whether the principal carries the role.
func (p Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Require returns ErrUnauthorizedAccess unless the principal has the role.
func (p Principal) Require(role Role) error {
	if !p.HasRole(role) {
		return ErrUnauthorizedAccess
	}
	return nil
}
