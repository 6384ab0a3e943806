package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/auth"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"github.com/dmitrijs2005/leadcrm/internal/server/metrics"
	"github.com/dmitrijs2005/leadcrm/internal/server/models"
	"github.com/dmitrijs2005/leadcrm/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
)

var testAccessSecret = []byte("rest-test-access")

// -------- tokens --------

type fakeTokens struct {
	mu     sync.Mutex
	seq    int
	active map[string]string // refresh token -> user id
	err    error
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{active: map[string]string{}}
}

func (f *fakeTokens) GenerateTokens(ctx context.Context, userID, email string) (*services.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	access, err := auth.GenerateToken(userID, email, testAccessSecret, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	f.seq++
	refresh := fmt.Sprintf("refresh-%d", f.seq)
	f.active[refresh] = userID
	return &services.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (f *fakeTokens) RotateRefreshToken(ctx context.Context, oldToken string) (*services.TokenPair, error) {
	f.mu.Lock()
	userID, ok := f.active[oldToken]
	delete(f.active, oldToken)
	f.mu.Unlock()
	if !ok {
		return nil, common.AuthenticationError("invalid or expired refresh token")
	}
	return f.GenerateTokens(ctx, userID, userID+"@x.com")
}

func (f *fakeTokens) RevokeRefreshToken(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.active, token)
	return nil
}

func (f *fakeTokens) RevokeAllUserTokens(ctx context.Context, userID string) (int64, error) {
	return f.RevokeOtherUserTokens(ctx, userID, "")
}

func (f *fakeTokens) RevokeOtherUserTokens(ctx context.Context, userID, keep string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for tok, uid := range f.active {
		if uid == userID && tok != keep {
			delete(f.active, tok)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) VerifyAccessToken(token string) (*auth.Claims, error) {
	return auth.ParseToken(token, testAccessSecret)
}

func (f *fakeTokens) isActive(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[token]
	return ok
}

// -------- users --------

type fakeUser struct {
	models.User
	password string
}

type fakeUsers struct {
	mu   sync.Mutex
	seq  int
	rows map[string]*fakeUser // by email
	err  error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{rows: map[string]*fakeUser{}}
}

func (f *fakeUsers) add(email, password string, googleID *string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	u := &fakeUser{User: models.User{ID: fmt.Sprintf("user-%d", f.seq), Email: email, GoogleID: googleID}, password: password}
	if password != "" {
		h := "hash:" + password
		u.PasswordHash = &h
	}
	f.rows[email] = u
	cp := u.User
	return &cp
}

func (f *fakeUsers) CreateUser(ctx context.Context, email, password, name string) (*models.User, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	email = strings.ToLower(strings.TrimSpace(email))

	f.mu.Lock()
	if u, ok := f.rows[email]; ok {
		defer f.mu.Unlock()
		if u.password != "" {
			return nil, false, common.ConflictError("user with this email already exists")
		}
		u.password = password
		h := "hash:" + password
		u.PasswordHash = &h
		cp := u.User
		return &cp, true, nil
	}
	f.mu.Unlock()

	u := f.add(email, password, nil)
	token := "verify-" + u.ID

	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[email].VerificationToken = &token
	f.rows[email].Name = name
	cp := f.rows[email].User
	return &cp, false, nil
}

func (f *fakeUsers) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[strings.ToLower(email)]
	if !ok || u.password == "" || u.password != password {
		return nil, common.AuthenticationError("invalid email or password")
	}
	cp := u.User
	return &cp, nil
}

func (f *fakeUsers) byPred(pred func(*fakeUser) bool) *fakeUser {
	for _, u := range f.rows {
		if pred(u) {
			return u
		}
	}
	return nil
}

func (f *fakeUsers) UpdateUserVerification(ctx context.Context, token string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byPred(func(u *fakeUser) bool { return token != "" && u.VerificationToken != nil && *u.VerificationToken == token })
	if u == nil {
		return nil, common.ValidationError("invalid verification token")
	}
	u.IsVerified = true
	u.VerificationToken = nil
	cp := u.User
	return &cp, nil
}

func (f *fakeUsers) RegenerateVerificationToken(ctx context.Context, userID string) (*models.User, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byPred(func(u *fakeUser) bool { return u.ID == userID })
	if u == nil {
		return nil, "", common.ErrorNotFound
	}
	if u.IsVerified {
		return nil, "", common.ValidationError("email already verified")
	}
	token := "verify2-" + u.ID
	u.VerificationToken = &token
	cp := u.User
	return &cp, token, nil
}

func (f *fakeUsers) SetResetToken(ctx context.Context, email string) (*models.User, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[strings.ToLower(email)]
	if !ok {
		return nil, "", common.ErrorNotFound
	}
	token := "reset-" + u.ID
	u.ResetToken = &token
	cp := u.User
	return &cp, token, nil
}

func (f *fakeUsers) ResetUserPassword(ctx context.Context, token, newPassword string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byPred(func(u *fakeUser) bool { return u.ResetToken != nil && *u.ResetToken == token })
	if u == nil {
		return nil, common.ValidationError("invalid or expired reset token")
	}
	u.ResetToken = nil
	u.password = newPassword
	cp := u.User
	return &cp, nil
}

func (f *fakeUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byPred(func(u *fakeUser) bool { return u.ID == id })
	if u == nil {
		return nil, common.ErrorNotFound
	}
	cp := u.User
	return &cp, nil
}

// -------- notifier, documents, oauth, db --------

type sentMail struct {
	kind, to, token string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeNotifier) record(kind, to, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind, to, token})
	return f.err
}

func (f *fakeNotifier) SendVerification(ctx context.Context, to, name, token string) error {
	return f.record("verify", to, token)
}

func (f *fakeNotifier) SendPasswordReset(ctx context.Context, to, name, token string) error {
	return f.record("reset", to, token)
}

type fakeDocuments struct{}

func (fakeDocuments) UploadURL(ctx context.Context, userID, fileName string) (string, string, error) {
	key := "users/" + userID + "/k-" + fileName
	return key, "https://s3/put/" + key, nil
}

func (fakeDocuments) DownloadURL(ctx context.Context, userID, key string) (string, error) {
	if !strings.HasPrefix(key, "users/"+userID+"/") {
		return "", common.AuthorizationError("access to this document is not allowed")
	}
	return "https://s3/get/" + key, nil
}

type fakeOAuth struct {
	tokens *fakeTokens
	err    error
	codes  []string
}

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + state
}

func (f *fakeOAuth) Login(ctx context.Context, code string) (*models.User, *services.TokenPair, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, nil, f.err
	}
	u := &models.User{ID: "user-g", Email: "g@x.com", IsVerified: true}
	pair, err := f.tokens.GenerateTokens(ctx, u.ID, u.Email)
	return u, pair, err
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

// -------- harness --------

type env struct {
	cfg      *config.Config
	users    *fakeUsers
	tokens   *fakeTokens
	notifier *fakeNotifier
	oauth    *fakeOAuth
	pinger   *fakePinger
	handler  *Handler
	router   http.Handler
}

func newEnv(mutate ...func(*config.Config)) *env {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.AuthRateLimitPerIP = 0
	for _, m := range mutate {
		m(cfg)
	}

	reg := prometheus.NewRegistry()
	e := &env{
		cfg:      cfg,
		users:    newFakeUsers(),
		tokens:   newFakeTokens(),
		notifier: &fakeNotifier{},
		pinger:   &fakePinger{},
	}
	e.oauth = &fakeOAuth{tokens: e.tokens}

	e.handler = NewHandler(Deps{
		Config:    cfg,
		Logger:    logging.Nop{},
		Metrics:   metrics.NewWithRegistry(reg, reg),
		Users:     e.users,
		Tokens:    e.tokens,
		OAuth:     e.oauth,
		Documents: fakeDocuments{},
		Notifier:  e.notifier,
		DB:        e.pinger,
	})
	return e
}
