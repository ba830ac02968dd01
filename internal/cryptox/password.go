package cryptox

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes a password with bcrypt. The per-call random salt is
// embedded in the resulting string, so verification needs only the stored
// hash. Raw passwords must never be logged.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
// A malformed hash yields false, never a panic: bad stored data must read
// as a failed login.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
