package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Aegis-Labs/aegis/core/pkg/auth"
	"github.com/Aegis-Labs/aegis/core/pkg/config"
)

// runToken mints a principal token from TOKEN_SECRET. Intended for bootstrap
// and operational tooling, not end users.
func runToken(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "usage: aegis token <principal-id> <role,...>")
		fmt.Fprintln(stderr, "roles: approver, operator, auditor")
		return 2
	}
	cfg := config.Load()
	if cfg.TokenSecret == "" {
		fmt.Fprintln(stderr, "TOKEN_SECRET is required")
		return 1
	}
	tokens, err := auth.NewTokenService([]byte(cfg.TokenSecret), cfg.TokenIssuer, 0)
	if err != nil {
		fmt.Fprintf(stderr, "token service: %v\n", err)
		return 1
	}

	var roles []auth.Role
	for _, r := range strings.Split(args[1], ",") {
		switch role := auth.Role(strings.TrimSpace(r)); role {
		case auth.RoleApprover, auth.RoleOperator, auth.RoleAuditor:
			roles = append(roles, role)
		default:
			fmt.Fprintf(stderr, "unknown role: %s\n", r)
			return 2
		}
	}

	token, err := tokens.Issue(auth.Principal{ID: args[0], Roles: roles})
	if err != nil {
		fmt.Fprintf(stderr, "issue: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
