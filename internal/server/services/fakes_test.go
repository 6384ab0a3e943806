package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/dbx"
	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"github.com/dmitrijs2005/leadcrm/internal/server/models"
	"github.com/dmitrijs2005/leadcrm/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/leadcrm/internal/server/repositories/users"
	"golang.org/x/crypto/bcrypt"
)

// -------- in-memory refresh token store --------

type memTokens struct {
	mu      sync.Mutex
	rows    map[string]*models.RefreshToken
	seq     int
	err     error
	creates int
}

func newMemTokens() *memTokens {
	return &memTokens{rows: map[string]*models.RefreshToken{}}
}

func (m *memTokens) Create(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.rows[token]; ok {
		return common.ErrConflict
	}
	m.seq++
	m.creates++
	m.rows[token] = &models.RefreshToken{
		ID: fmt.Sprintf("rt-%d", m.seq), UserID: userID, Token: token, ExpiresAt: expiresAt,
	}
	return nil
}

func (m *memTokens) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.rows[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memTokens) Revoke(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	r, ok := m.rows[token]
	if !ok || r.Revoked {
		return false, nil
	}
	r.Revoked = true
	return true, nil
}

func (m *memTokens) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return m.RevokeAllForUserExcept(ctx, userID, "")
}

func (m *memTokens) RevokeAllForUserExcept(ctx context.Context, userID, keep string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, r := range m.rows {
		if r.UserID == userID && !r.Revoked && r.Token != keep {
			r.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *memTokens) DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for k, r := range m.rows {
		if r.Revoked || r.ExpiresAt.Before(now) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) put(r *models.RefreshToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.Token] = r
}

func (m *memTokens) get(token string) *models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[token]
}

// -------- in-memory user store --------

type memUsers struct {
	mu   sync.Mutex
	rows map[string]*models.User
	seq  int
	err  error
}

func newMemUsers() *memUsers {
	return &memUsers{rows: map[string]*models.User{}}
}

func clone(u *models.User) *models.User {
	cp := *u
	return &cp
}

func (m *memUsers) find(pred func(*models.User) bool) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.rows {
		if pred(u) {
			return clone(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.rows {
		if u.Email == user.Email {
			return nil, common.ErrConflict
		}
	}
	m.seq++
	user.ID = fmt.Sprintf("user-%d", m.seq)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.rows[user.ID] = clone(user)
	return user, nil
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *memUsers) GetByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *models.User) bool { return u.GoogleID != nil && *u.GoogleID == googleID })
}

func (m *memUsers) update(id string, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	u, ok := m.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(u)
	return nil
}

func (m *memUsers) SetPassword(ctx context.Context, userID, passwordHash string) error {
	return m.update(userID, func(u *models.User) { u.PasswordHash = &passwordHash })
}

func (m *memUsers) LinkPassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	u, ok := m.rows[userID]
	if !ok || u.PasswordHash != nil {
		return common.ErrConflict
	}
	u.PasswordHash = &passwordHash
	return nil
}

func (m *memUsers) LinkGoogleIdentity(ctx context.Context, userID, googleID string, avatarURL *string) error {
	return m.update(userID, func(u *models.User) {
		u.GoogleID = &googleID
		if u.AvatarURL == nil {
			u.AvatarURL = avatarURL
		}
		u.IsVerified = true
		u.VerificationToken = nil
	})
}

func (m *memUsers) SetVerificationToken(ctx context.Context, userID, token string) error {
	return m.update(userID, func(u *models.User) { u.VerificationToken = &token })
}

func (m *memUsers) VerifyByToken(ctx context.Context, token string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.rows {
		if u.VerificationToken != nil && *u.VerificationToken == token {
			u.IsVerified = true
			u.VerificationToken = nil
			return clone(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memUsers) SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return m.update(userID, func(u *models.User) {
		u.ResetToken = &token
		u.ResetTokenExpiry = &expiresAt
	})
}

func (m *memUsers) GetByResetToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(u *models.User) bool {
		return u.ResetToken != nil && *u.ResetToken == token &&
			u.ResetTokenExpiry != nil && u.ResetTokenExpiry.After(now)
	})
}

func (m *memUsers) ResetPassword(ctx context.Context, token, passwordHash string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.rows {
		if u.ResetToken != nil && *u.ResetToken == token &&
			u.ResetTokenExpiry != nil && u.ResetTokenExpiry.After(now) {
			u.PasswordHash = &passwordHash
			u.ResetToken = nil
			u.ResetTokenExpiry = nil
			return clone(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memUsers) put(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[u.ID] = u
}

// -------- repository manager --------

type memRepoManager struct {
	users  *memUsers
	tokens *memTokens
}

func (m *memRepoManager) RunMigrations(context.Context, *sql.DB) error   { return nil }
func (m *memRepoManager) Users(dbx.DBTX) users.Repository                 { return m.users }
func (m *memRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.tokens }

// -------- harness --------

type harness struct {
	db     *sql.DB
	mock   sqlmock.Sqlmock
	rm     *memRepoManager
	cfg    *config.Config
	tokens *TokenService
	users  *UserService
}

func testConfig() *config.Config {
	return &config.Config{
		AccessTokenSecret:            "access-test-secret",
		RefreshTokenSecret:           "refresh-test-secret",
		AccessTokenValidityDuration:  15 * time.Minute,
		RefreshTokenValidityDuration: 30 * 24 * time.Hour,
		PasswordResetTokenTTL:        time.Hour,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	origHash := hashPassword
	hashPassword = func(p string) (string, error) {
		b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.MinCost)
		return string(b), err
	}
	t.Cleanup(func() { hashPassword = origHash })

	rm := &memRepoManager{users: newMemUsers(), tokens: newMemTokens()}
	cfg := testConfig()

	return &harness{
		db:     db,
		mock:   mock,
		rm:     rm,
		cfg:    cfg,
		tokens: NewTokenService(db, rm, cfg, logging.Nop{}),
		users:  NewUserService(db, rm, cfg, logging.Nop{}),
	}
}

// expectTx registers one committed transaction with sqlmock.
func (h *harness) expectTx() {
	h.mock.ExpectBegin()
	h.mock.ExpectCommit()
}

func (h *harness) expectRollback() {
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()
}

// racyManager swaps the refresh token repository of a memRepoManager.
type racyManager struct {
	*memRepoManager
	tokens refreshtokens.Repository
}

func (m *racyManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.tokens }

func nopLogger() logging.Logger { return logging.Nop{} }

// usersManager swaps the user repository of a memRepoManager.
type usersManager struct {
	*memRepoManager
	users users.Repository
}

func (m *usersManager) Users(dbx.DBTX) users.Repository { return m.users }
