package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/dbx"
	"github.com/dmitrijs2005/leadcrm/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, google_id, name, avatar_url, is_verified,
		verification_token, reset_token, reset_token_expiry, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, google_id, name, avatar_url, is_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, user.GoogleID, user.Name, user.AvatarURL, user.IsVerified, user.VerificationToken,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresRepository) GetByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
}

func (r *PostgresRepository) SetPassword(ctx context.Context, userID string, passwordHash string) error {
	query := `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, userID, passwordHash)
}

func (r *PostgresRepository) LinkPassword(ctx context.Context, userID string, passwordHash string) error {
	query := `
		UPDATE users SET password_hash = $2, updated_at = now()
		WHERE id = $1 AND password_hash IS NULL
	`
	err := r.execOne(ctx, query, userID, passwordHash)
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrConflict
	}
	return err
}

// LinkGoogleIdentity attaches a Google account. The provider has verified the
// email, so the account is marked verified and any pending token is dropped.
// An existing avatar is kept.
func (r *PostgresRepository) LinkGoogleIdentity(ctx context.Context, userID string, googleID string, avatarURL *string) error {
	query := `
		UPDATE users
		SET google_id = $2,
		    avatar_url = COALESCE(avatar_url, $3),
		    is_verified = TRUE,
		    verification_token = NULL,
		    updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, userID, googleID, avatarURL)
}

func (r *PostgresRepository) SetVerificationToken(ctx context.Context, userID string, token string) error {
	query := `
		UPDATE users SET verification_token = $2, updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, userID, token)
}

func (r *PostgresRepository) VerifyByToken(ctx context.Context, token string) (*models.User, error) {
	query := `
		UPDATE users
		SET is_verified = TRUE, verification_token = NULL, updated_at = now()
		WHERE verification_token = $1
		RETURNING ` + userColumns
	return r.getOne(ctx, query, token)
}

func (r *PostgresRepository) SetResetToken(ctx context.Context, userID string, token string, expiresAt time.Time) error {
	query := `
		UPDATE users SET reset_token = $2, reset_token_expiry = $3, updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, userID, token, expiresAt)
}

func (r *PostgresRepository) GetByResetToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE reset_token = $1 AND reset_token_expiry > $2`
	return r.getOne(ctx, query, token, now)
}

func (r *PostgresRepository) ResetPassword(ctx context.Context, token string, passwordHash string, now time.Time) (*models.User, error) {
	query := `
		UPDATE users
		SET password_hash = $2, reset_token = NULL, reset_token_expiry = NULL, updated_at = now()
		WHERE reset_token = $1 AND reset_token_expiry > $3
		RETURNING ` + userColumns
	return r.getOne(ctx, query, token, passwordHash, now)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.GoogleID, &u.Name, &u.AvatarURL, &u.IsVerified,
		&u.VerificationToken, &u.ResetToken, &u.ResetTokenExpiry, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrorNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", common.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("db error: %w", err)
}
