// Package oauth implements identity providers for the OAuth login flow.
package oauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"github.com/dmitrijs2005/leadcrm/internal/server/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

var errUnverifiedEmail = common.AuthenticationError("google account email is not verified")

var (
	exchangeCode = func(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
		return cfg.Exchange(ctx, code)
	}

	fetchUserinfo = func(ctx context.Context, client *http.Client) (*googleoauth2.Userinfo, error) {
		svc, err := googleoauth2.NewService(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, err
		}
		return svc.Userinfo.Get().Context(ctx).Do()
	}
)

// GoogleProvider signs users in with their Google account.
type GoogleProvider struct {
	cfg *oauth2.Config
}

func NewGoogleProvider(c *config.Config) *GoogleProvider {
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     c.GoogleClientID,
			ClientSecret: c.GoogleClientSecret,
			RedirectURL:  c.GoogleRedirectURL,
			Scopes: []string{
				googleoauth2.OpenIDScope,
				googleoauth2.UserinfoEmailScope,
				googleoauth2.UserinfoProfileScope,
			},
			Endpoint: google.Endpoint,
		},
	}
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades code for a token and reads the profile. Accounts whose
// email Google has not verified are refused, since accounts are linked by
// email.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*models.OAuthProfile, error) {
	token, err := exchangeCode(ctx, p.cfg, code)
	if err != nil {
		return nil, fmt.Errorf("error exchanging code: %w", err)
	}

	info, err := fetchUserinfo(ctx, p.cfg.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("error fetching userinfo: %w", err)
	}

	if info.VerifiedEmail == nil || !*info.VerifiedEmail {
		return nil, errUnverifiedEmail
	}

	return &models.OAuthProfile{
		Email:      info.Email,
		ExternalID: info.Id,
		Name:       info.Name,
		Picture:    info.Picture,
	}, nil
}
