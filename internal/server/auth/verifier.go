package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates tokens signed by the matching Minter.
type Verifier struct {
	secret []byte
	method jwt.SigningMethod
}

// NewVerifier constructs a Verifier for the given HMAC secret and algorithm
// identifier. The same constraints as NewMinter apply.
func NewVerifier(secret []byte, alg string) (*Verifier, error) {
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
	return &Verifier{secret: secret, method: method}, nil
}

// Verify checks the token signature, expiry, and required claims, in that
// order, and returns the decoded claim set. Failures map to
// ErrInvalidSignature, ErrExpired, or ErrMalformedClaims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{v.method.Alg()}),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		default:
			return nil, ErrMalformedClaims
		}
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}
	if claims.Subject == "" {
		return nil, ErrMalformedClaims
	}
	return claims, nil
}

// VerifyAccess behaves like Verify and additionally rejects refresh-typed
// tokens with ErrWrongTokenType. Long-lived refresh tokens exist only to be
// exchanged through rotation; they must not double as bearer credentials on
// scoped endpoints.
func (v *Verifier) VerifyAccess(tokenString string) (*Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.IsRefresh() {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// VerifyRefresh behaves like Verify and additionally requires the token to
// carry type="refresh". An access token presented here yields
// ErrWrongTokenType.
func (v *Verifier) VerifyRefresh(tokenString string) (*Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefresh() {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
