// Package services contains the server-side business logic. This file
// implements UserService: registration, credential verification, token
// issuance, and the refresh-rotation protocol.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mlenoir/authvault/internal/common"
	"github.com/mlenoir/authvault/internal/cryptox"
	"github.com/mlenoir/authvault/internal/dbx"
	"github.com/mlenoir/authvault/internal/logging"
	"github.com/mlenoir/authvault/internal/server/auth"
	"github.com/mlenoir/authvault/internal/server/config"
	"github.com/mlenoir/authvault/internal/server/models"
	"github.com/mlenoir/authvault/internal/server/repositories/repomanager"
)

// TokenPair bundles a short-lived access token and a long-lived refresh
// token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Profile is a user view with the bio decrypted.
type Profile struct {
	User *models.User
	Bio  string
}

// UserService provides the credential and session lifecycle operations:
//   - Register: create users with fresh key material
//   - Authenticate / Login: verify credentials and mint token pairs
//   - Refresh: rotate the stored refresh token
//   - AuthorizeAccess: validate access tokens and their scopes
//
// plus the profile and admin operations built on top of them.
type UserService struct {
	db                           *sql.DB
	repos                        repomanager.RepositoryManager
	minter                       *auth.Minter
	verifier                     *auth.Verifier
	logger                       logging.Logger
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	trimRefreshCompare           bool
}

// NewUserService constructs a UserService from repositories and server
// config. It fails when the signing configuration is unusable, which the
// caller treats as fatal at startup.
func NewUserService(db *sql.DB, repos repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) (*UserService, error) {
	minter, err := auth.NewMinter([]byte(cfg.SecretKey), cfg.SigningAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("token minter init: %w", err)
	}
	verifier, err := auth.NewVerifier([]byte(cfg.SecretKey), cfg.SigningAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("token verifier init: %w", err)
	}
	return &UserService{
		db:                           db,
		repos:                        repos,
		minter:                       minter,
		verifier:                     verifier,
		logger:                       logger.With("component", "users"),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		trimRefreshCompare:           cfg.RefreshCompareTrim,
	}, nil
}

// Register creates a user with a hashed password and a freshly generated
// encryption key, and eagerly creates the sensitive-data record holding the
// encrypted bio. A taken username or email yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, username, email, password, bio string) (*models.User, error) {
	repo := s.repos.Users(s.db)

	if _, err := repo.GetByUsername(ctx, username); err == nil {
		return nil, common.ErrorAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorInternal
	}
	if _, err := repo.GetByEmail(ctx, email); err == nil {
		return nil, common.ErrorAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorInternal
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		Role:          auth.RoleUser,
		EncryptionKey: cryptox.GenerateUserKey(),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.repos.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		user = created

		encryptedBio, err := cryptox.EncryptSensitive(bio, user.EncryptionKey)
		if err != nil {
			return err
		}
		return s.repos.SessionSecrets(tx).SaveBio(ctx, user.ID, encryptedBio)
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		s.logger.Error(ctx, "user registration failed", "username", username, "error", err)
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "user registered", "username", user.Username)
	return user, nil
}

// Authenticate verifies a username/password pair. Any failure is reported
// as ErrAuthenticationFailed without distinguishing which part was wrong.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repos.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrAuthenticationFailed
		}
		return nil, common.ErrorInternal
	}
	if !cryptox.VerifyPassword(password, user.PasswordHash) {
		s.logger.Warn(ctx, "authentication failed", "username", username)
		return nil, common.ErrAuthenticationFailed
	}
	return user, nil
}

// Login authenticates the user, mints an access/refresh pair with the
// scopes granted by the user's role, and persists the encrypted refresh
// token as the single active one for this user.
func (s *UserService) Login(ctx context.Context, username, password string) (*TokenPair, *models.User, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.mintPair(user.Username, user.Role, auth.ScopesForRole(user.Role))
	if err != nil {
		return nil, nil, common.ErrorInternal
	}

	if user.EncryptionKey == "" {
		s.logger.Warn(ctx, "no encryption key configured, storing refresh token in plaintext", "username", username)
	}
	ciphertext, err := cryptox.EncryptSensitive(pair.RefreshToken, user.EncryptionKey)
	if err != nil {
		return nil, nil, common.ErrorInternal
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repos.SessionSecrets(tx).SaveRefreshToken(ctx, user.ID, ciphertext)
	})
	if err != nil {
		s.logger.Error(ctx, "storing refresh token failed", "username", username, "error", err)
		return nil, nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "user logged in", "username", user.Username)
	return pair, user, nil
}

// Refresh implements the rotation protocol. The presented token's
// signature, expiry, and refresh type are verified; the stored ciphertext
// is loaded and decrypted with the user's key; the cleartexts are compared;
// and on a match a fresh pair is minted and the stored slot overwritten.
// The read-decrypt-compare-write sequence runs inside one transaction with
// the secret row locked, so concurrent rotations serialize: a replayed
// token that lost the race re-reads the rotated ciphertext and is rejected
// instead of silently re-validating.
//
// Every failure surfaces as common.ErrRotationRejected. The step that
// failed is logged but never reported to the caller.
func (s *UserService) Refresh(ctx context.Context, presented string) (*TokenPair, error) {
	claims, err := s.verifier.VerifyRefresh(presented)
	if err != nil {
		s.logger.Warn(ctx, "refresh rejected: token verification failed", "error", err)
		return nil, common.ErrRotationRejected
	}

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repos.Users(tx).GetByUsername(ctx, claims.Subject)
		if err != nil {
			return fmt.Errorf("loading user: %w", err)
		}

		secret, err := s.repos.SessionSecrets(tx).GetByUserIDForUpdate(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("loading session secret: %w", err)
		}
		if secret.EncryptedRefreshToken == "" {
			return errors.New("no active refresh token")
		}

		stored := cryptox.DecryptSensitive(secret.EncryptedRefreshToken, user.EncryptionKey)
		if stored == "" {
			return errors.New("stored refresh token did not decrypt")
		}
		if !s.refreshTokensEqual(stored, presented) {
			return errors.New("presented token does not match stored token")
		}

		pair, err = s.mintPair(claims.Subject, claims.Role, claims.Scopes)
		if err != nil {
			return fmt.Errorf("minting new pair: %w", err)
		}

		ciphertext, err := cryptox.EncryptSensitive(pair.RefreshToken, user.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encrypting new refresh token: %w", err)
		}
		return s.repos.SessionSecrets(tx).SaveRefreshToken(ctx, user.ID, ciphertext)
	})
	if err != nil {
		s.logger.Warn(ctx, "refresh rejected", "subject", claims.Subject, "error", err)
		return nil, common.ErrRotationRejected
	}

	s.logger.Info(ctx, "refresh token rotated", "subject", claims.Subject)
	return pair, nil
}

// AuthorizeAccess validates an access token and checks that it grants
// every required scope. Returns the decoded claims on success. Refresh
// tokens are refused here; their only use is the rotation exchange.
func (s *UserService) AuthorizeAccess(tokenString string, required ...string) (*auth.Claims, error) {
	claims, err := s.verifier.VerifyAccess(tokenString)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(claims, required...); err != nil {
		return nil, err
	}
	return claims, nil
}

// Logout clears the stored refresh token, so no refresh succeeds until
// the next login. Already-issued access tokens stay valid until expiry.
func (s *UserService) Logout(ctx context.Context, username string) error {
	user, err := s.repos.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return common.ErrorInternal
	}
	if err := s.repos.SessionSecrets(s.db).SaveRefreshToken(ctx, user.ID, ""); err != nil {
		s.logger.Error(ctx, "clearing refresh token failed", "username", username, "error", err)
		return common.ErrorInternal
	}
	s.logger.Info(ctx, "user logged out", "username", username)
	return nil
}

// Profile returns the user record with the bio decrypted. A missing
// sensitive-data record or a bio that fails decryption reads as empty.
func (s *UserService) Profile(ctx context.Context, username string) (*Profile, error) {
	user, err := s.repos.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrorInternal
	}

	bio := ""
	secret, err := s.repos.SessionSecrets(s.db).GetByUserID(ctx, user.ID)
	if err == nil {
		bio = cryptox.DecryptSensitive(secret.EncryptedBio, user.EncryptionKey)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorInternal
	}

	return &Profile{User: user, Bio: bio}, nil
}

// UpdateBio re-encrypts and stores the user's bio.
func (s *UserService) UpdateBio(ctx context.Context, username, bio string) error {
	user, err := s.repos.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return common.ErrorInternal
	}

	ciphertext, err := cryptox.EncryptSensitive(bio, user.EncryptionKey)
	if err != nil {
		return common.ErrorInternal
	}
	if err := s.repos.SessionSecrets(s.db).SaveBio(ctx, user.ID, ciphertext); err != nil {
		return common.ErrorInternal
	}
	return nil
}

// ListUsers returns all user records. Authorization happens at the
// transport layer via the admin scope.
func (s *UserService) ListUsers(ctx context.Context) ([]*models.User, error) {
	list, err := s.repos.Users(s.db).List(ctx)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return list, nil
}

// DeleteUser removes a user by id; the sensitive-data record cascades.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	if err := s.repos.Users(s.db).Delete(ctx, id); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return common.ErrorInternal
	}
	s.logger.Info(ctx, "user deleted", "user_id", id)
	return nil
}

// --- helpers below ---

func (s *UserService) mintPair(subject, role string, scopes []string) (*TokenPair, error) {
	access, err := s.minter.Mint(subject, role, scopes, auth.TokenTypeAccess, s.accessTokenValidityDuration)
	if err != nil {
		return nil, err
	}
	refresh, err := s.minter.Mint(subject, role, scopes, auth.TokenTypeRefresh, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// refreshTokensEqual compares the stored cleartext against the presented
// token in constant time. Trimming of surrounding whitespace is explicit
// and configurable; only a full exact match rotates the session.
func (s *UserService) refreshTokensEqual(stored, presented string) bool {
	if s.trimRefreshCompare {
		stored = strings.TrimSpace(stored)
		presented = strings.TrimSpace(presented)
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
