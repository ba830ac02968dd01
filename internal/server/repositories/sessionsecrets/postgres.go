// Package sessionsecrets provides a PostgreSQL-backed repository for the
// per-user encrypted sensitive-data record (active refresh token ciphertext
// and encrypted bio).
package sessionsecrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mlenoir/authvault/internal/common"
	"github.com/mlenoir/authvault/internal/dbx"
	"github.com/mlenoir/authvault/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx). The user_id UNIQUE constraint enforces the
// one-record-per-user invariant: both save operations upsert against it, so
// a second row for the same user can never appear.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUserID returns the user's sensitive-data record, or
// common.ErrorNotFound when none was created yet.
func (r *PostgresRepository) GetByUserID(ctx context.Context, userID string) (*models.SessionSecret, error) {
	return r.getByUserID(ctx, userID, false)
}

// GetByUserIDForUpdate behaves like GetByUserID but takes a row lock held
// until the surrounding transaction ends. Concurrent rotations for the same
// user block here, so the second one re-reads the already-rotated
// ciphertext instead of the stale one.
func (r *PostgresRepository) GetByUserIDForUpdate(ctx context.Context, userID string) (*models.SessionSecret, error) {
	return r.getByUserID(ctx, userID, true)
}

func (r *PostgresRepository) getByUserID(ctx context.Context, userID string, forUpdate bool) (*models.SessionSecret, error) {
	query := `
		SELECT id, user_id, encrypted_bio, encrypted_refresh_token
		FROM user_sensitive_data
		WHERE user_id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	secret := &models.SessionSecret{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&secret.ID, &secret.UserID, &secret.EncryptedBio, &secret.EncryptedRefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return secret, nil
}

// SaveRefreshToken stores the ciphertext of the user's active refresh
// token, creating the record lazily on first login and overwriting the
// stored slot on every rotation.
func (r *PostgresRepository) SaveRefreshToken(ctx context.Context, userID, ciphertext string) error {
	query := `
		INSERT INTO user_sensitive_data (user_id, encrypted_refresh_token)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET encrypted_refresh_token = EXCLUDED.encrypted_refresh_token
	`
	if _, err := r.db.ExecContext(ctx, query, userID, ciphertext); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SaveBio stores the user's encrypted bio, creating the record if needed.
func (r *PostgresRepository) SaveBio(ctx context.Context, userID, ciphertext string) error {
	query := `
		INSERT INTO user_sensitive_data (user_id, encrypted_bio)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET encrypted_bio = EXCLUDED.encrypted_bio
	`
	if _, err := r.db.ExecContext(ctx, query, userID, ciphertext); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
