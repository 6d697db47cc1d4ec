package domain

import (
	"errors"
	"strings"
	"time"
)

// Account is a user of the platform as held by the user directory.
// RefreshToken is the single live refresh credential; empty means no session.
type Account struct {
	ID            string
	Username      string
	Email         string
	FullName      string
	AvatarURL     string
	CoverImageURL string
	PasswordHash  string
	RefreshToken  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PublicAccount is the account view safe to return to clients.
type PublicAccount struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	AvatarURL     string    `json:"avatar_url"`
	CoverImageURL string    `json:"cover_image_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Public strips the password hash and refresh token.
func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		FullName:      a.FullName,
		AvatarURL:     a.AvatarURL,
		CoverImageURL: a.CoverImageURL,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// HasSession reports whether a refresh credential is stored.
func (a *Account) HasSession() bool {
	return a.RefreshToken != ""
}

// NormalizeUsername trims and lower-cases a username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.Username == "" {
		return errors.New("username is required")
	}
	if a.Username != NormalizeUsername(a.Username) {
		return errors.New("username must be lower-case")
	}
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.FullName == "" {
		return errors.New("full name is required")
	}
	if a.AvatarURL == "" {
		return errors.New("avatar url is required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
