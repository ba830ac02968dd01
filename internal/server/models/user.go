// Package models holds the persistence-facing record types used by the
// server repositories and services.
package models

import "time"

// User is the identity record. The encryption key is generated once at
// creation and never rotated; losing it permanently invalidates the user's
// stored secrets. The key must never appear in logs.
type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	Role          string
	EncryptionKey string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
