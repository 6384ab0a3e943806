// Package users declares and implements persistence of user accounts.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/leadcrm/internal/server/models"
)

// Repository is the account store. Lookups return common.ErrorNotFound when no
// row matches; writes that hit a unique constraint return common.ErrConflict.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*models.User, error)

	SetPassword(ctx context.Context, userID string, passwordHash string) error
	// LinkPassword sets the hash only while the account has none. It returns
	// common.ErrConflict when a password is already present.
	LinkPassword(ctx context.Context, userID string, passwordHash string) error
	LinkGoogleIdentity(ctx context.Context, userID string, googleID string, avatarURL *string) error
	SetVerificationToken(ctx context.Context, userID string, token string) error

	// VerifyByToken flips is_verified and clears the token in one statement.
	VerifyByToken(ctx context.Context, token string) (*models.User, error)

	SetResetToken(ctx context.Context, userID string, token string, expiresAt time.Time) error
	// GetByResetToken only matches tokens whose expiry is after now.
	GetByResetToken(ctx context.Context, token string, now time.Time) (*models.User, error)
	// ResetPassword sets the hash and clears the reset token and its expiry in
	// one statement, provided the token is still valid at now.
	ResetPassword(ctx context.Context, token string, passwordHash string, now time.Time) (*models.User, error)
}
