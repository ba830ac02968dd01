package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"time"

	"github.com/mlenoir/authvault/internal/common"
)

// Encrypted blob layout, before base64url encoding:
//
//	version (1 byte) | unix timestamp (8 bytes, big endian) |
//	nonce (12 bytes) | AES-256-GCM ciphertext+tag
//
// The header (version+timestamp) is bound into the GCM tag as additional
// data, so a tampered header fails authentication. The blob is fully
// self-describing: only the original key is needed to decrypt it.
const (
	blobVersion   = 0x01
	blobHeaderLen = 1 + 8
	nonceSize     = 12
)

// EncryptSensitive encrypts plaintext with the user's key and returns an
// opaque base64url blob. When key is empty the plaintext is returned
// unchanged: this is the documented degraded mode for users without key
// material, not an error. Callers are expected to log it at warning level.
func EncryptSensitive(plaintext, key string) (string, error) {
	if key == "" {
		return plaintext, nil
	}

	raw, err := decodeUserKey(key)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(raw)

	aesgcm, err := newGCM(raw)
	if err != nil {
		return "", err
	}

	header := make([]byte, blobHeaderLen)
	header[0] = blobVersion
	binary.BigEndian.PutUint64(header[1:], uint64(time.Now().Unix()))

	nonce := common.GenerateRandByteArray(nonceSize)

	blob := make([]byte, 0, blobHeaderLen+nonceSize+len(plaintext)+aesgcm.Overhead())
	blob = append(blob, header...)
	blob = append(blob, nonce...)
	blob = aesgcm.Seal(blob, nonce, []byte(plaintext), header)

	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// DecryptSensitive reverses EncryptSensitive. The empty string result means
// "absent or invalid"; callers must never treat it as a valid empty secret.
//
// Behaviour by input:
//   - empty key: the ciphertext is returned unchanged (pass-through mode);
//   - empty ciphertext: empty string, no decryption attempted;
//   - wrong key, corrupted blob, or non-ciphertext input: empty string.
func DecryptSensitive(ciphertext, key string) string {
	if key == "" {
		return ciphertext
	}
	if ciphertext == "" {
		return ""
	}

	raw, err := decodeUserKey(key)
	if err != nil {
		return ""
	}
	defer common.WipeByteArray(raw)

	blob, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return ""
	}

	aesgcm, err := newGCM(raw)
	if err != nil {
		return ""
	}

	if len(blob) < blobHeaderLen+nonceSize+aesgcm.Overhead() {
		return ""
	}
	header := blob[:blobHeaderLen]
	if header[0] != blobVersion {
		return ""
	}
	nonce := blob[blobHeaderLen : blobHeaderLen+nonceSize]

	plaintext, err := aesgcm.Open(nil, nonce, blob[blobHeaderLen+nonceSize:], header)
	if err != nil {
		return ""
	}
	return string(plaintext)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
