package sessionsecrets

import (
	"context"

	"github.com/mlenoir/authvault/internal/server/models"
)

// Repository is the persistence contract for the single encrypted
// sensitive-data record each user may have.
//
// GetByUserIDForUpdate locks the record for the rest of the surrounding
// transaction. The rotation protocol must use it so two concurrent
// rotations of the same token serialize: without the lock both would read
// the same ciphertext and both overwrites would commit.
type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*models.SessionSecret, error)
	GetByUserIDForUpdate(ctx context.Context, userID string) (*models.SessionSecret, error)
	SaveRefreshToken(ctx context.Context, userID, ciphertext string) error
	SaveBio(ctx context.Context, userID, ciphertext string) error
}
