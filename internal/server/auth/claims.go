// Package auth implements token minting, verification, and scope-based
// authorization for authvault sessions.
//
// Tokens are compact HMAC-signed JWTs. Access tokens are short-lived and
// authorize individual requests; refresh tokens are long-lived, carry
// type="refresh", and are exchanged for a fresh pair through the rotation
// protocol in the services layer.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mlenoir/authvault/internal/common"
)

// Token type claim values. A token without a type claim is an access token.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Roles stored on the user record and carried in the role claim.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Verification errors. Each wraps common.ErrInvalidToken so callers can
// match the whole family with a single errors.Is check.
var (
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", common.ErrInvalidToken)
	ErrExpired          = fmt.Errorf("%w: expired", common.ErrInvalidToken)
	ErrMalformedClaims  = fmt.Errorf("%w: malformed claims", common.ErrInvalidToken)
	ErrWrongTokenType   = fmt.Errorf("%w: wrong token type", common.ErrInvalidToken)
)

// Claims is the fixed-shape claim set carried by every authvault token:
// subject (username), role, granted scopes, token type, plus the registered
// iat/exp/jti fields. Scope order is irrelevant for authorization.
type Claims struct {
	jwt.RegisteredClaims
	Role      string   `json:"role,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	TokenType string   `json:"type,omitempty"`
}

// Type returns the effective token type. A missing type claim means access.
func (c *Claims) Type() string {
	if c.TokenType == "" {
		return TokenTypeAccess
	}
	return c.TokenType
}

// IsRefresh reports whether the claims belong to a refresh token.
func (c *Claims) IsRefresh() bool {
	return c.Type() == TokenTypeRefresh
}
