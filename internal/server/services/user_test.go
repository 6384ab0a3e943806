package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/server/models"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestSignupLoginScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, linked, err := h.users.CreateUser(ctx, "A@X.com ", "secret1", "Alice")
	require.NoError(t, err)
	assert.False(t, linked)
	assert.Equal(t, "a@x.com", user.Email)
	assert.False(t, user.IsVerified)
	require.NotNil(t, user.VerificationToken)
	assert.Len(t, *user.VerificationToken, 64)
	require.NotNil(t, user.PasswordHash)
	assert.NotEqual(t, "secret1", *user.PasswordHash)

	logged, err := h.users.Authenticate(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)

	pair, err := h.tokens.GenerateTokens(ctx, logged.ID, logged.Email)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	_, err = h.users.Authenticate(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, common.ErrAuthentication)

	_, err = h.users.Authenticate(ctx, "nobody@x.com", "secret1")
	assert.ErrorIs(t, err, common.ErrAuthentication)
}

func TestCreateUser_LinksOAuthAccountThenConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.rm.users.put(&models.User{
		ID: "user-g", Email: "g@x.com", GoogleID: strptr("google-1"), IsVerified: true,
	})

	user, linked, err := h.users.CreateUser(ctx, "g@x.com", "newpass", "")
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, "user-g", user.ID)
	assert.True(t, user.HasPassword())
	assert.True(t, user.HasGoogleIdentity())

	_, err = h.users.Authenticate(ctx, "g@x.com", "newpass")
	require.NoError(t, err)

	_, _, err = h.users.CreateUser(ctx, "g@x.com", "another", "")
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestCreateUser_ConcurrentLinkHasOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.rm.users.put(&models.User{
		ID: "user-g", Email: "g@x.com", GoogleID: strptr("google-1"), IsVerified: true,
	})

	fast := hashPassword
	hashPassword = func(p string) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return fast(p)
	}
	t.Cleanup(func() { hashPassword = fast })

	const signups = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		linked    int
		conflicts int
	)
	for i := 0; i < signups; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := h.users.CreateUser(ctx, "g@x.com", "secret1", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && ok:
				linked++
			case errors.Is(err, common.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, linked)
	assert.Equal(t, signups-1, conflicts)
}

func TestCreateUser_ExistingAccountWithoutIdentityConflicts(t *testing.T) {
	h := newHarness(t)

	h.rm.users.put(&models.User{ID: "user-bare", Email: "bare@x.com"})

	_, _, err := h.users.CreateUser(context.Background(), "bare@x.com", "secret1", "")
	assert.ErrorIs(t, err, common.ErrConflict)

	u, err := h.users.GetUser(context.Background(), "user-bare")
	require.NoError(t, err)
	assert.False(t, u.HasPassword())
}

func TestPasswordByteLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// 25 runes, 75 bytes.
	long := strings.Repeat("€", 25)
	require.Len(t, long, 75)

	_, _, err := h.users.CreateUser(ctx, "a@x.com", long, "")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.users.ResetUserPassword(ctx, "some-token", long)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.users.SetPassword(ctx, "a@x.com", long)
	assert.ErrorIs(t, err, common.ErrValidation)

	// 24 runes, 72 bytes is still accepted.
	_, _, err = h.users.CreateUser(ctx, "a@x.com", strings.Repeat("€", 24), "")
	require.NoError(t, err)
}

func TestCreateUser_Validation(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.users.CreateUser(context.Background(), " ", "secret1", "")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, _, err = h.users.CreateUser(context.Background(), "a@x.com", "", "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestCreateUser_StoreConflictOnInsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conflicting := &conflictUsers{memUsers: h.rm.users}
	svc := NewUserService(h.db, &usersManager{memRepoManager: h.rm, users: conflicting}, h.cfg, nopLogger())

	_, _, err := svc.CreateUser(ctx, "a@x.com", "secret1", "")
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestCreateUser_StoreError(t *testing.T) {
	h := newHarness(t)
	h.rm.users.err = errors.New("db down")

	_, _, err := h.users.CreateUser(context.Background(), "a@x.com", "secret1", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrConflict)
	assert.NotErrorIs(t, err, common.ErrValidation)
}

func TestAuthenticate_OAuthOnlyAccount(t *testing.T) {
	h := newHarness(t)
	h.rm.users.put(&models.User{ID: "user-g", Email: "g@x.com", GoogleID: strptr("google-1")})

	_, err := h.users.Authenticate(context.Background(), "g@x.com", "")
	assert.ErrorIs(t, err, common.ErrAuthentication)
}

func TestVerifyPassword(t *testing.T) {
	h := newHarness(t)

	hash, err := hashPassword("secret1")
	require.NoError(t, err)

	assert.True(t, h.users.VerifyPassword("secret1", hash))
	assert.False(t, h.users.VerifyPassword("secret2", hash))
	assert.False(t, h.users.VerifyPassword("secret1", "not-a-hash"))
}

func TestHashPassword_DefaultCost(t *testing.T) {
	assert.Equal(t, 12, BcryptCost)
}

func TestUpdateUserVerification_SingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, _, err := h.users.CreateUser(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	token := *user.VerificationToken

	_, err = h.users.UpdateUserVerification(ctx, "no-such-token")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.users.UpdateUserVerification(ctx, "")
	assert.ErrorIs(t, err, common.ErrValidation)

	verified, err := h.users.UpdateUserVerification(ctx, token)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.Nil(t, verified.VerificationToken)

	_, err = h.users.UpdateUserVerification(ctx, token)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRegenerateVerificationToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, _, err := h.users.CreateUser(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	old := *user.VerificationToken

	_, token, err := h.users.RegenerateVerificationToken(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old, token)

	_, err = h.users.UpdateUserVerification(ctx, old)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.users.UpdateUserVerification(ctx, token)
	require.NoError(t, err)

	_, _, err = h.users.RegenerateVerificationToken(ctx, user.ID)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, _, err = h.users.RegenerateVerificationToken(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPasswordReset_Flow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, _, err := h.users.CreateUser(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)

	_, _, err = h.users.SetResetToken(ctx, "missing@x.com")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	withToken, token, err := h.users.SetResetToken(ctx, "A@x.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, withToken.ID)
	require.NotNil(t, withToken.ResetTokenExpiry)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *withToken.ResetTokenExpiry, 5*time.Second)

	found, err := h.users.FindUserByResetToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	reset, err := h.users.ResetUserPassword(ctx, token, "newsecret")
	require.NoError(t, err)
	assert.Nil(t, reset.ResetToken)
	assert.Nil(t, reset.ResetTokenExpiry)

	_, err = h.users.Authenticate(ctx, "a@x.com", "newsecret")
	require.NoError(t, err)
	_, err = h.users.Authenticate(ctx, "a@x.com", "secret1")
	assert.ErrorIs(t, err, common.ErrAuthentication)

	_, err = h.users.ResetUserPassword(ctx, token, "third")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = h.users.FindUserByResetToken(ctx, token)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestPasswordReset_ExpiredToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.users.CreateUser(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)
	_, token, err := h.users.SetResetToken(ctx, "a@x.com")
	require.NoError(t, err)

	h.users.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = h.users.FindUserByResetToken(ctx, token)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.users.ResetUserPassword(ctx, token, "newsecret")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestResetUserPassword_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.users.ResetUserPassword(context.Background(), "", "x")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = h.users.ResetUserPassword(context.Background(), "t", "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestSetPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, err := h.users.CreateUser(ctx, "a@x.com", "secret1", "")
	require.NoError(t, err)

	_, err = h.users.SetPassword(ctx, "a@x.com", "operator-set")
	require.NoError(t, err)

	_, err = h.users.Authenticate(ctx, "a@x.com", "operator-set")
	require.NoError(t, err)

	_, err = h.users.SetPassword(ctx, "missing@x.com", "x")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, _, err := h.users.CreateUser(ctx, "a@x.com", "secret1", "Alice")
	require.NoError(t, err)

	got, err := h.users.GetUser(ctx, created.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(created, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Fatalf("user mismatch (-want +got):\n%s", diff)
	}

	byEmail, err := h.users.GetUserByEmail(ctx, " A@X.COM")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = h.users.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFindOrCreateOAuthUser(t *testing.T) {
	ctx := context.Background()

	t.Run("creates verified passwordless user", func(t *testing.T) {
		h := newHarness(t)

		u, err := h.users.FindOrCreateOAuthUser(ctx, &models.OAuthProfile{
			Email: "New@x.com", ExternalID: "g-1", Name: "New", Picture: "http://pic",
		})
		require.NoError(t, err)
		assert.Equal(t, "new@x.com", u.Email)
		assert.True(t, u.IsVerified)
		assert.False(t, u.HasPassword())
		require.NotNil(t, u.AvatarURL)
		assert.Equal(t, "http://pic", *u.AvatarURL)

		again, err := h.users.FindOrCreateOAuthUser(ctx, &models.OAuthProfile{Email: "new@x.com", ExternalID: "g-1"})
		require.NoError(t, err)
		assert.Equal(t, u.ID, again.ID)
	})

	t.Run("links existing password account by email", func(t *testing.T) {
		h := newHarness(t)

		created, _, err := h.users.CreateUser(ctx, "a@x.com", "secret1", "")
		require.NoError(t, err)

		u, err := h.users.FindOrCreateOAuthUser(ctx, &models.OAuthProfile{Email: "a@x.com", ExternalID: "g-2"})
		require.NoError(t, err)
		assert.Equal(t, created.ID, u.ID)
		assert.True(t, u.IsVerified)
		assert.True(t, u.HasPassword())
		require.NotNil(t, u.GoogleID)
		assert.Equal(t, "g-2", *u.GoogleID)
		assert.Nil(t, u.VerificationToken)
	})

	t.Run("rejects incomplete profile", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.users.FindOrCreateOAuthUser(ctx, &models.OAuthProfile{Email: "a@x.com"})
		assert.ErrorIs(t, err, common.ErrValidation)
		_, err = h.users.FindOrCreateOAuthUser(ctx, nil)
		assert.ErrorIs(t, err, common.ErrValidation)
	})
}

// conflictUsers simulates a concurrent signup winning the unique email index.
type conflictUsers struct {
	*memUsers
}

func (c *conflictUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	return nil, common.ErrConflict
}
