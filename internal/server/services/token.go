// Package services contains server-side business logic: token lifecycle,
// user accounts, the OAuth bridge and document storage URLs.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/dbx"
	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/auth"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"github.com/dmitrijs2005/leadcrm/internal/server/repositories/repomanager"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// errInvalidRefreshToken is returned for every refresh failure caused by the
// presented token itself, so clients cannot tell the causes apart.
var errInvalidRefreshToken = common.AuthenticationError("invalid or expired refresh token")

// TokenService issues, rotates and revokes access/refresh token pairs.
// Refresh tokens are persisted; access tokens are not.
type TokenService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	logger                       logging.Logger
	accessSecret                 []byte
	refreshSecret                []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	now                          func() time.Time
}

func NewTokenService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *TokenService {
	return &TokenService{
		db:                           db,
		repomanager:                  m,
		logger:                       logger.With("module", "token_service"),
		accessSecret:                 []byte(cfg.AccessTokenSecret),
		refreshSecret:                []byte(cfg.RefreshTokenSecret),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		now:                          time.Now,
	}
}

// GenerateTokens mints a new pair for the user and persists the refresh token.
func (s *TokenService) GenerateTokens(ctx context.Context, userID, email string) (*TokenPair, error) {
	return s.generateTokenPair(ctx, s.db, userID, email)
}

// RotateRefreshToken exchanges a valid refresh token for a new pair. The old
// token is revoked in the same transaction the new one is stored in; a token
// that lost a concurrent rotation, was revoked before, or is unknown fails
// with an authentication error. An expired token is revoked as a side effect.
func (s *TokenService) RotateRefreshToken(ctx context.Context, oldToken string) (*TokenPair, error) {
	if oldToken == "" {
		return nil, errInvalidRefreshToken
	}

	repo := s.repomanager.RefreshTokens(s.db)

	claims, err := auth.ParseToken(oldToken, s.refreshSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			s.revokeQuietly(ctx, oldToken)
		}
		return nil, errInvalidRefreshToken
	}

	stored, err := repo.Find(ctx, oldToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errInvalidRefreshToken
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}

	if stored.Revoked {
		s.logger.Warn(ctx, "revoked refresh token presented", "user_id", stored.UserID)
		return nil, errInvalidRefreshToken
	}

	if stored.IsExpired(s.now()) {
		s.revokeQuietly(ctx, oldToken)
		return nil, errInvalidRefreshToken
	}

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		revoked, err := s.repomanager.RefreshTokens(tx).Revoke(ctx, oldToken)
		if err != nil {
			return fmt.Errorf("error revoking refresh token: %w", err)
		}
		if !revoked {
			return errInvalidRefreshToken
		}
		pair, err = s.generateTokenPair(ctx, tx, stored.UserID, claims.Email)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pair, nil
}

// RevokeRefreshToken revokes one token. Unknown or already revoked tokens are
// not an error.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.repomanager.RefreshTokens(s.db).Revoke(ctx, token); err != nil {
		return fmt.Errorf("error revoking refresh token: %w", err)
	}
	return nil
}

// RevokeAllUserTokens ends every session of the user.
func (s *TokenService) RevokeAllUserTokens(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("error revoking user tokens: %w", err)
	}
	return n, nil
}

// RevokeOtherUserTokens ends every session of the user except the one
// identified by keepToken.
func (s *TokenService) RevokeOtherUserTokens(ctx context.Context, userID, keepToken string) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).RevokeAllForUserExcept(ctx, userID, keepToken)
	if err != nil {
		return 0, fmt.Errorf("error revoking other user tokens: %w", err)
	}
	return n, nil
}

// CleanupExpiredTokens deletes expired and revoked refresh tokens and returns
// how many were removed. Safe to run concurrently.
func (s *TokenService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).DeleteExpiredOrRevoked(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("error deleting expired tokens: %w", err)
	}
	return n, nil
}

// VerifyAccessToken checks an access token without touching the store.
func (s *TokenService) VerifyAccessToken(token string) (*auth.Claims, error) {
	return auth.ParseToken(token, s.accessSecret)
}

// RefreshTokenTTL is the lifetime of refresh tokens and of their cookie.
func (s *TokenService) RefreshTokenTTL() time.Duration {
	return s.refreshTokenValidityDuration
}

func (s *TokenService) revokeQuietly(ctx context.Context, token string) {
	if _, err := s.repomanager.RefreshTokens(s.db).Revoke(ctx, token); err != nil {
		s.logger.Error(ctx, "failed to revoke expired refresh token", "err", err)
	}
}

func (s *TokenService) generateTokenPair(ctx context.Context, db dbx.DBTX, userID, email string) (*TokenPair, error) {
	access, err := auth.GenerateToken(userID, email, s.accessSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("error signing access token: %w", err)
	}
	refresh, err := auth.GenerateToken(userID, email, s.refreshSecret, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("error signing refresh token: %w", err)
	}

	expiresAt := s.now().Add(s.refreshTokenValidityDuration)
	if err := s.repomanager.RefreshTokens(db).Create(ctx, userID, refresh, expiresAt); err != nil {
		return nil, fmt.Errorf("error storing refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
