package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/models"
)

// IdentityProvider is an external OAuth provider.
type IdentityProvider interface {
	// AuthCodeURL returns the consent page URL carrying state.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for the user's profile.
	Exchange(ctx context.Context, code string) (*models.OAuthProfile, error)
}

// OAuthService turns an authorization code into a local session.
type OAuthService struct {
	provider IdentityProvider
	users    *UserService
	tokens   *TokenService
	logger   logging.Logger
}

func NewOAuthService(provider IdentityProvider, users *UserService, tokens *TokenService, logger logging.Logger) *OAuthService {
	return &OAuthService{
		provider: provider,
		users:    users,
		tokens:   tokens,
		logger:   logger.With("module", "oauth_service"),
	}
}

func (s *OAuthService) AuthCodeURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

// Login exchanges code, resolves the local account and issues a token pair.
func (s *OAuthService) Login(ctx context.Context, code string) (*models.User, *TokenPair, error) {
	if code == "" {
		return nil, nil, common.ValidationError("authorization code is required")
	}

	profile, err := s.provider.Exchange(ctx, code)
	if err != nil {
		var ce *common.Error
		if errors.As(err, &ce) {
			return nil, nil, err
		}
		s.logger.Error(ctx, "oauth code exchange failed", "err", err)
		return nil, nil, common.AuthenticationError("oauth authentication failed")
	}

	user, err := s.users.FindOrCreateOAuthUser(ctx, profile)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.tokens.GenerateTokens(ctx, user.ID, user.Email)
	if err != nil {
		return nil, nil, err
	}

	return user, pair, nil
}
