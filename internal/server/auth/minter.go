package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Minter builds and signs tokens with the process-wide secret and signing
// algorithm. Both are fixed at construction time; the minting routines never
// read ambient global state.
type Minter struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

// NewMinter constructs a Minter for the given HMAC secret and algorithm
// identifier (e.g. "HS256"). Only HMAC family algorithms are accepted.
func NewMinter(secret []byte, alg string) (*Minter, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("unknown signing algorithm %q", alg)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("signing algorithm %q is not symmetric", alg)
	}
	return &Minter{secret: secret, method: method, now: time.Now}, nil
}

// Mint signs a token for the given subject, role, and scopes. tokenType is
// TokenTypeAccess or TokenTypeRefresh. The exp, iat, and jti claims are
// injected here unconditionally; callers cannot override them, and every
// mint gets a fresh globally unique jti.
func (m *Minter) Mint(subject, role string, scopes []string, tokenType string, ttl time.Duration) (string, error) {
	now := m.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:   role,
		Scopes: scopes,
	}
	if tokenType != TokenTypeAccess {
		claims.TokenType = tokenType
	}

	token := jwt.NewWithClaims(m.method, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
