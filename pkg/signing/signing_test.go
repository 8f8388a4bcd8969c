package signing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aegis-Labs/aegis/core/pkg/signing"
)

func TestDeriveSigner_Deterministic(t *testing.T) {
	master := []byte("correct horse battery staple")

	a, err := signing.DeriveSigner(master, "2026-03")
	require.NoError(t, err)
	b, err := signing.DeriveSigner(master, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, a.PublicKeyHex(), b.PublicKeyHex())

	other, err := signing.DeriveSigner(master, "2026-04")
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKeyHex(), other.PublicKeyHex())

	_, err = signing.DeriveSigner(nil, "2026-03")
	assert.Error(t, err)
}

func TestKeyring_SignVerifyRotateRevoke(t *testing.T) {
	master := []byte("correct horse battery staple")
	ring := signing.NewKeyring()

	old, err := signing.DeriveSigner(master, "2026-02")
	require.NoError(t, err)
	ring.Add(old)

	payload := []byte(`{"sequence":1}`)
	oldSig, err := ring.Sign(payload)
	require.NoError(t, err)
	require.NoError(t, ring.Verify(payload, oldSig))

	// Rotation: the new key signs, the old one still verifies.
	next, err := signing.DeriveSigner(master, "2026-03")
	require.NoError(t, err)
	ring.Add(next)

	newSig, err := ring.Sign(payload)
	require.NoError(t, err)
	assert.Contains(t, newSig, "ed25519:2026-03:")
	require.NoError(t, ring.Verify(payload, oldSig))
	require.NoError(t, ring.Verify(payload, newSig))

	ring.Revoke("2026-02")
	assert.ErrorIs(t, ring.Verify(payload, oldSig), signing.ErrUnknownKey)
}

func TestKeyring_RejectsTamperedPayload(t *testing.T) {
	ring := signing.NewKeyring()
	s, err := signing.NewSigner("k1")
	require.NoError(t, err)
	ring.Add(s)

	sig, err := ring.Sign([]byte("original"))
	require.NoError(t, err)
	assert.Error(t, ring.Verify([]byte("tampered"), sig))
	assert.Error(t, ring.Verify([]byte("original"), "not-a-signature"))
}

func TestEmptyKeyring(t *testing.T) {
	ring := signing.NewKeyring()
	_, err := ring.Sign([]byte("x"))
	assert.Error(t, err)
}
