// Package cryptox implements the cryptographic primitives of authvault:
// per-user key generation, authenticated encryption of sensitive fields,
// and password hashing.
package cryptox

import (
	"encoding/base64"

	"github.com/mlenoir/authvault/internal/common"
)

// userKeySize is the AES-256 key length in bytes.
const userKeySize = 32

// GenerateUserKey produces a fresh random symmetric key for one user,
// encoded so it is safe to store in a text column. Each user gets exactly
// one key at creation time; it is never rotated. Uniqueness across users is
// enforced by the database constraint, not here.
func GenerateUserKey() string {
	return base64.RawURLEncoding.EncodeToString(common.GenerateRandByteArray(userKeySize))
}

// decodeUserKey decodes a stored key string back into raw key bytes.
func decodeUserKey(key string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return nil, err
	}
	if len(raw) != userKeySize {
		return nil, common.ErrEncryptionKeyMissing
	}
	return raw, nil
}
