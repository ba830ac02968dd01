package models

// SessionSecret holds a user's encrypted sensitive fields: the ciphertext
// of the currently active refresh token and the encrypted bio. A user has
// zero or one SessionSecret; rotation overwrites the refresh slot in place
// rather than creating new rows.
type SessionSecret struct {
	ID                    string
	UserID                string
	EncryptedBio          string
	EncryptedRefreshToken string
}
