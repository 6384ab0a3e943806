package models

import "time"

// User is an account. PasswordHash and GoogleID are nil when the account was
// created through the other authentication method and has not been linked.
type User struct {
	ID                string
	Email             string
	PasswordHash      *string
	GoogleID          *string
	Name              string
	AvatarURL         *string
	IsVerified        bool
	VerificationToken *string
	ResetToken        *string
	ResetTokenExpiry  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasPassword reports whether password login is set up for the account.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// HasGoogleIdentity reports whether the account is linked to Google.
func (u *User) HasGoogleIdentity() bool {
	return u.GoogleID != nil && *u.GoogleID != ""
}
