package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds how long an issued token stays valid.
const DefaultTokenTTL = 8 * time.Hour

// claims is the JWT payload carrying the principal.
type claims struct {
	Name  string `json:"name,omitempty"`
	Roles []Role `json:"roles"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HMAC-signed principal tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenService builds a service. Zero ttl gets the default.
func NewTokenService(secret []byte, issuer string, ttl time.Duration) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth: empty token secret")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		clock:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue mints a signed token for the principal.
func (s *TokenService) Issue(p Principal) (string, error) {
	if p.ID == "" {
		return "", fmt.Errorf("auth: principal id required")
	}
	now := s.clock()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name:  p.Name,
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the embedded principal.
// Any parse, signature or expiry failure maps to ErrUnauthorizedAccess.
func (s *TokenService) Verify(tokenString string) (Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(func() time.Time { return s.clock() }),
	)
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorizedAccess, err)
	}
	return Principal{ID: c.Subject, Name: c.Name, Roles: c.Roles}, nil
}
