package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"github.com/dmitrijs2005/leadcrm/internal/server/models"
	"github.com/dmitrijs2005/leadcrm/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor used for password hashes.
const BcryptCost = 12

// MaxPasswordBytes is the longest password bcrypt accepts. The limit is in
// bytes, so multibyte characters count more than once.
const MaxPasswordBytes = 72

// Length in bytes of verification and reset tokens before hex encoding.
const secureTokenSize = 32

var (
	hashPassword = func(password string) (string, error) {
		b, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	newSecureToken = func() (string, error) {
		return common.MakeRandHexString(secureTokenSize)
	}
)

// checkPassword rejects passwords bcrypt cannot hash.
func checkPassword(password string) error {
	if password == "" {
		return common.ValidationError("password is required")
	}
	if len(password) > MaxPasswordBytes {
		return common.ValidationError(fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}
	return nil
}

var (
	errInvalidCredentials = common.AuthenticationError("invalid email or password")
	errInvalidResetToken  = common.ValidationError("invalid or expired reset token")
)

type UserService struct {
	db                    *sql.DB
	repomanager           repomanager.RepositoryManager
	logger                logging.Logger
	passwordResetTokenTTL time.Duration
	now                   func() time.Time
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *UserService {
	return &UserService{
		db:                    db,
		repomanager:           m,
		logger:                logger.With("module", "user_service"),
		passwordResetTokenTTL: cfg.PasswordResetTokenTTL,
		now:                   time.Now,
	}
}

// NormalizeEmail lowercases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers a password account. When an OAuth-only account with
// the same email exists, the password is attached to it instead and linked is
// true. Any other existing account yields a conflict, and so does losing a
// concurrent link to the same account.
func (s *UserService) CreateUser(ctx context.Context, email, password, name string) (user *models.User, linked bool, err error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, false, common.ValidationError("email is required")
	}
	if err := checkPassword(password); err != nil {
		return nil, false, err
	}

	repo := s.repomanager.Users(s.db)

	existing, err := repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.HasPassword() || !existing.HasGoogleIdentity() {
			return nil, false, common.ConflictError("user with this email already exists")
		}

		hash, err := hashPassword(password)
		if err != nil {
			return nil, false, fmt.Errorf("error hashing password: %w", err)
		}
		if err := repo.LinkPassword(ctx, existing.ID, hash); err != nil {
			if errors.Is(err, common.ErrConflict) {
				return nil, false, common.ConflictError("user with this email already exists")
			}
			return nil, false, fmt.Errorf("error linking password: %w", err)
		}
		existing.PasswordHash = &hash

		s.logger.Warn(ctx, "password attached to existing oauth account", "user_id", existing.ID)
		return existing, true, nil

	case errors.Is(err, common.ErrorNotFound):
		// fall through to creation

	default:
		return nil, false, fmt.Errorf("error searching user: %w", err)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, false, fmt.Errorf("error hashing password: %w", err)
	}

	verificationToken, err := newSecureToken()
	if err != nil {
		return nil, false, fmt.Errorf("error generating verification token: %w", err)
	}

	created, err := repo.Create(ctx, &models.User{
		Email:             email,
		PasswordHash:      &hash,
		Name:              strings.TrimSpace(name),
		VerificationToken: &verificationToken,
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, false, common.ConflictError("user with this email already exists")
		}
		return nil, false, fmt.Errorf("error creating user: %w", err)
	}

	return created, false, nil
}

// Authenticate checks email and password. Unknown emails, OAuth-only accounts
// and wrong passwords all yield the same authentication error.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, fmt.Errorf("error searching user: %w", err)
	}

	if !user.HasPassword() || !s.VerifyPassword(password, *user.PasswordHash) {
		return nil, errInvalidCredentials
	}

	return user, nil
}

// VerifyPassword compares a plaintext password with a bcrypt hash.
func (s *UserService) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// UpdateUserVerification marks the owner of token verified and consumes the
// token.
func (s *UserService) UpdateUserVerification(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, common.ValidationError("verification token is required")
	}

	user, err := s.repomanager.Users(s.db).VerifyByToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ValidationError("invalid verification token")
		}
		return nil, fmt.Errorf("error verifying user: %w", err)
	}

	return user, nil
}

// RegenerateVerificationToken replaces the pending verification token of an
// unverified user and returns the new one.
func (s *UserService) RegenerateVerificationToken(ctx context.Context, userID string) (*models.User, string, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		return nil, "", s.userLookupError(err)
	}
	if user.IsVerified {
		return nil, "", common.ValidationError("email already verified")
	}

	token, err := newSecureToken()
	if err != nil {
		return nil, "", fmt.Errorf("error generating verification token: %w", err)
	}
	if err := repo.SetVerificationToken(ctx, user.ID, token); err != nil {
		return nil, "", fmt.Errorf("error storing verification token: %w", err)
	}
	user.VerificationToken = &token

	return user, token, nil
}

// SetResetToken issues a password reset token for the account with email.
// It returns common.ErrorNotFound when there is no such account.
func (s *UserService) SetResetToken(ctx context.Context, email string) (*models.User, string, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, "", common.ErrorNotFound
		}
		return nil, "", fmt.Errorf("error searching user: %w", err)
	}

	token, err := newSecureToken()
	if err != nil {
		return nil, "", fmt.Errorf("error generating reset token: %w", err)
	}

	expiresAt := s.now().Add(s.passwordResetTokenTTL)
	if err := repo.SetResetToken(ctx, user.ID, token, expiresAt); err != nil {
		return nil, "", fmt.Errorf("error storing reset token: %w", err)
	}
	user.ResetToken = &token
	user.ResetTokenExpiry = &expiresAt

	return user, token, nil
}

// FindUserByResetToken returns the owner of a reset token that has not expired.
func (s *UserService) FindUserByResetToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, errInvalidResetToken
	}

	user, err := s.repomanager.Users(s.db).GetByResetToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errInvalidResetToken
		}
		return nil, fmt.Errorf("error searching user: %w", err)
	}

	return user, nil
}

// ResetUserPassword sets a new password using a reset token. The token is
// consumed, so a second call with it fails.
func (s *UserService) ResetUserPassword(ctx context.Context, token, newPassword string) (*models.User, error) {
	if token == "" {
		return nil, errInvalidResetToken
	}
	if err := checkPassword(newPassword); err != nil {
		return nil, err
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user, err := s.repomanager.Users(s.db).ResetPassword(ctx, token, hash, s.now())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, errInvalidResetToken
		}
		return nil, fmt.Errorf("error resetting password: %w", err)
	}

	return user, nil
}

// SetPassword overwrites the password of the account with email. Used by
// operators; it does not require the old password.
func (s *UserService) SetPassword(ctx context.Context, email, newPassword string) (*models.User, error) {
	if err := checkPassword(newPassword); err != nil {
		return nil, err
	}

	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, s.userLookupError(err)
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}
	if err := repo.SetPassword(ctx, user.ID, hash); err != nil {
		return nil, fmt.Errorf("error setting password: %w", err)
	}
	user.PasswordHash = &hash

	return user, nil
}

// GetUser returns the user with id or common.ErrorNotFound.
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, s.userLookupError(err)
	}
	return user, nil
}

// GetUserByEmail returns the user with email or common.ErrorNotFound.
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, s.userLookupError(err)
	}
	return user, nil
}

// FindOrCreateOAuthUser resolves an external identity to a local account:
// by external id first, then by email (linking the identity), otherwise a new
// verified account without a password is created.
func (s *UserService) FindOrCreateOAuthUser(ctx context.Context, profile *models.OAuthProfile) (*models.User, error) {
	if profile == nil || profile.ExternalID == "" || profile.Email == "" {
		return nil, common.ValidationError("incomplete oauth profile")
	}

	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByGoogleID(ctx, profile.ExternalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error searching user: %w", err)
	}

	var avatar *string
	if profile.Picture != "" {
		avatar = &profile.Picture
	}

	email := NormalizeEmail(profile.Email)

	user, err = repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := repo.LinkGoogleIdentity(ctx, user.ID, profile.ExternalID, avatar); err != nil {
			return nil, fmt.Errorf("error linking oauth identity: %w", err)
		}
		s.logger.Info(ctx, "oauth identity linked to existing account", "user_id", user.ID)
		return repo.GetByID(ctx, user.ID)

	case errors.Is(err, common.ErrorNotFound):
		googleID := profile.ExternalID
		created, err := repo.Create(ctx, &models.User{
			Email:      email,
			GoogleID:   &googleID,
			Name:       profile.Name,
			AvatarURL:  avatar,
			IsVerified: true,
		})
		if err != nil {
			if errors.Is(err, common.ErrConflict) {
				return nil, common.ConflictError("account already exists")
			}
			return nil, fmt.Errorf("error creating user: %w", err)
		}
		return created, nil

	default:
		return nil, fmt.Errorf("error searching user: %w", err)
	}
}

func (s *UserService) userLookupError(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrorNotFound
	}
	return fmt.Errorf("error searching user: %w", err)
}
