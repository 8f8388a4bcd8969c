package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aegis-Labs/aegis/core/pkg/auth"
)

func TestIssueAndVerify(t *testing.T) {
	svc, err := auth.NewTokenService([]byte("test-secret"), "aegis", time.Hour)
	require.NoError(t, err)

	p := auth.Principal{ID: "alice", Name: "Alice", Roles: []auth.Role{auth.RoleApprover}}
	token, err := svc.Issue(p)
	require.NoError(t, err)

	got, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.True(t, got.HasRole(auth.RoleApprover))
	assert.False(t, got.HasRole(auth.RoleOperator))
	assert.ErrorIs(t, got.Require(auth.RoleOperator), auth.ErrUnauthorizedAccess)
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	issuer, err := auth.NewTokenService([]byte("secret-a"), "aegis", time.Hour)
	require.NoError(t, err)
	verifier, err := auth.NewTokenService([]byte("secret-b"), "aegis", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue(auth.Principal{ID: "alice"})
	require.NoError(t, err)
	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, auth.ErrUnauthorizedAccess)
}

func TestVerify_RejectsWrongIssuerAndGarbage(t *testing.T) {
	svc, err := auth.NewTokenService([]byte("test-secret"), "aegis", time.Hour)
	require.NoError(t, err)
	other, err := auth.NewTokenService([]byte("test-secret"), "someone-else", time.Hour)
	require.NoError(t, err)

	token, err := other.Issue(auth.Principal{ID: "alice"})
	require.NoError(t, err)
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, auth.ErrUnauthorizedAccess)

	_, err = svc.Verify("not.a.token")
	assert.ErrorIs(t, err, auth.ErrUnauthorizedAccess)
}

func TestVerify_RejectsUnsignedAlgorithm(t *testing.T) {
	svc, err := auth.NewTokenService([]byte("test-secret"), "aegis", time.Hour)
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "mallory",
		Issuer:  "aegis",
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, auth.ErrUnauthorizedAccess)
}

func TestContextRoundTrip(t *testing.T) {
	_, err := auth.FromContext(context.Background())
	assert.ErrorIs(t, err, auth.ErrUnauthorizedAccess)

	ctx := auth.WithPrincipal(context.Background(), auth.Principal{ID: "alice"})
	p, err := auth.FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := auth.NewTokenService(nil, "aegis", 0)
	assert.Error(t, err)
}
