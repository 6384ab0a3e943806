package rest

import (
	"context"
	"time"

	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/auth"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"github.com/dmitrijs2005/leadcrm/internal/server/metrics"
	"github.com/dmitrijs2005/leadcrm/internal/server/models"
	"github.com/dmitrijs2005/leadcrm/internal/server/services"
)

type UserService interface {
	CreateUser(ctx context.Context, email, password, name string) (*models.User, bool, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	UpdateUserVerification(ctx context.Context, token string) (*models.User, error)
	RegenerateVerificationToken(ctx context.Context, userID string) (*models.User, string, error)
	SetResetToken(ctx context.Context, email string) (*models.User, string, error)
	ResetUserPassword(ctx context.Context, token, newPassword string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type TokenService interface {
	AccessTokenVerifier
	GenerateTokens(ctx context.Context, userID, email string) (*services.TokenPair, error)
	RotateRefreshToken(ctx context.Context, oldToken string) (*services.TokenPair, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	RevokeAllUserTokens(ctx context.Context, userID string) (int64, error)
	RevokeOtherUserTokens(ctx context.Context, userID, keepToken string) (int64, error)
}

type OAuthService interface {
	AuthCodeURL(state string) string
	Login(ctx context.Context, code string) (*models.User, *services.TokenPair, error)
}

type DocumentService interface {
	UploadURL(ctx context.Context, userID, fileName string) (string, string, error)
	DownloadURL(ctx context.Context, userID, key string) (string, error)
}

type Notifier interface {
	SendVerification(ctx context.Context, to, name, token string) error
	SendPasswordReset(ctx context.Context, to, name, token string) error
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators of the HTTP layer. OAuth is nil when Google
// login is not configured; its routes are then not mounted.
type Deps struct {
	Config    *config.Config
	Logger    logging.Logger
	Metrics   *metrics.Metrics
	Users     UserService
	Tokens    TokenService
	OAuth     OAuthService
	Documents DocumentService
	Notifier  Notifier
	DB        Pinger
}

type Handler struct {
	config    *config.Config
	logger    logging.Logger
	metrics   *metrics.Metrics
	users     UserService
	tokens    TokenService
	oauth     OAuthService
	documents DocumentService
	notifier  Notifier
	db        Pinger
}

func NewHandler(d Deps) *Handler {
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Handler{
		config:    d.Config,
		logger:    d.Logger.With("module", "http"),
		metrics:   m,
		users:     d.Users,
		tokens:    d.Tokens,
		oauth:     d.OAuth,
		documents: d.Documents,
		notifier:  d.Notifier,
		db:        d.DB,
	}
}

type userResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	AvatarURL    *string   `json:"avatarUrl,omitempty"`
	IsVerified   bool      `json:"isVerified"`
	HasPassword  bool      `json:"hasPassword"`
	GoogleLinked bool      `json:"googleLinked"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		AvatarURL:    u.AvatarURL,
		IsVerified:   u.IsVerified,
		HasPassword:  u.HasPassword(),
		GoogleLinked: u.HasGoogleIdentity(),
		CreatedAt:    u.CreatedAt,
	}
}

type authResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"accessToken"`
}

func mustClaims(ctx context.Context) *auth.Claims {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		panic("rest: handler mounted without RequireAuth")
	}
	return c
}
