// Package signing provides Ed25519 signatures for audit exports and decision
// attestations, with a rotating keyring whose keys are derived from a single
// master secret via HKDF.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// ErrUnknownKey is returned when a signature references a key the ring does
// not hold (or one that was revoked).
var ErrUnknownKey = errors.New("signing: unknown or revoked key")

// sigScheme prefixes every signature string.
const sigScheme = "ed25519"

// Signer holds one Ed25519 key pair.
type Signer struct {
	KeyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
}

// NewSigner generates a fresh random key pair.
func NewSigner(keyID string) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signing: generate key: %w", err)
	}
	return &Signer{KeyID: keyID, priv: priv, pub: pub}, nil
}

// DeriveSigner derives a deterministic key pair from a master secret. Each
// key id yields an independent key, so rotation is just picking a new id.
func DeriveSigner(master []byte, keyID string) (*Signer, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("signing: empty master secret")
	}
	r := hkdf.New(sha256.New, master, []byte("aegis-signing-v1"), []byte(keyID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("signing: derive seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		KeyID: keyID,
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
	}, nil
}

// Sign returns "ed25519:<key-id>:<hex signature>".
func (s *Signer) Sign(data []byte) string {
	sig := ed25519.Sign(s.priv, data)
	return strings.Join([]string{sigScheme, s.KeyID, hex.EncodeToString(sig)}, ":")
}

// Verify checks a raw signature against this key.
func (s *Signer) Verify(data, sig []byte) bool {
	return ed25519.Verify(s.pub, data, sig)
}

// PublicKeyHex returns the hex-encoded public key for distribution.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// Keyring holds multiple signers for rotation: new entries sign, old entries
// keep verifying until revoked.
type Keyring struct {
	mu      sync.RWMutex
	signers map[string]*Signer
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{signers: make(map[string]*Signer)}
}

// Add registers a signer.
func (k *Keyring) Add(s *Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID] = s
}

// Revoke removes a key. Signatures made with it no longer verify.
func (k *Keyring) Revoke(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, keyID)
}

// Sign signs with the active key: the lexicographically last key id, which
// rotation schemes encode as the newest.
func (k *Keyring) Sign(data []byte) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	ids := make([]string, 0, len(k.signers))
	for id := range k.signers {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("signing: keyring is empty")
	}
	sort.Strings(ids)
	return k.signers[ids[len(ids)-1]].Sign(data), nil
}

// Verify checks a "ed25519:<key-id>:<hex>" signature string against the ring.
func (k *Keyring) Verify(data []byte, signature string) error {
	parts := strings.SplitN(signature, ":", 3)
	if len(parts) != 3 || parts[0] != sigScheme {
		return fmt.Errorf("signing: malformed signature %q", signature)
	}
	sig, err := hex.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("signing: decode signature: %w", err)
	}

	k.mu.RLock()
	signer, ok := k.signers[parts[1]]
	k.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, parts[1])
	}
	if !signer.Verify(data, sig) {
		return fmt.Errorf("signing: signature does not verify for key %s", parts[1])
	}
	return nil
}
