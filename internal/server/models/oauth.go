// Package models defines server-side data models persisted in the database
// or exchanged between services.
package models

// OAuthProfile is what an identity provider returns for an authorization code.
type OAuthProfile struct {
	Email      string
	ExternalID string
	Name       string
	Picture    string
}
