// Package common defines shared sentinel errors and random helpers used
// across authvault components. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Generic service-level errors.
	ErrorInternal = errors.New("internal error")

	// ErrAuthenticationFailed covers any bad username/password combination.
	// It never distinguishes which part was wrong, to avoid user enumeration.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidToken covers any signature, expiry, type, or claim failure
	// on a presented token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrRotationRejected covers every failure in the refresh-rotation chain.
	// Deliberately uniform: it does not leak whether the user existed, a
	// secret existed, or where in the chain verification failed.
	ErrRotationRejected = errors.New("invalid refresh token")

	// ErrInsufficientScope is an authorization denial. Operator-facing, so
	// callers wrap it with the first missing scope.
	ErrInsufficientScope = errors.New("insufficient scope")

	// ErrEncryptionKeyMissing signals a user record without key material.
	// Degraded mode, not fatal: the codec falls back to pass-through.
	ErrEncryptionKeyMissing = errors.New("encryption key missing")
)
