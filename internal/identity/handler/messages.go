package handler

import (
	"time"

	userdomain "vidstream/backend/internal/user/domain"
)

type RegisterRequest struct {
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	// Avatar and CoverImage carry the image bytes; the filenames only contribute an extension.
	Avatar             []byte `json:"avatar"`
	AvatarFilename     string `json:"avatar_filename,omitempty"`
	CoverImage         []byte `json:"cover_image,omitempty"`
	CoverImageFilename string `json:"cover_image_filename,omitempty"`
}

type RegisterResponse struct {
	Account userdomain.PublicAccount `json:"account"`
}

// LoginRequest identifies the account by Username or Email.
type LoginRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Tokens  TokenPair                `json:"tokens"`
	Account userdomain.PublicAccount `json:"account"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshResponse struct {
	Tokens TokenPair `json:"tokens"`
}

type LogoutRequest struct{}

type LogoutResponse struct{}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type ChangePasswordResponse struct{}

type MeRequest struct{}

type MeResponse struct {
	Account userdomain.PublicAccount `json:"account"`
}

// TokenPair is the wire form of a freshly minted access/refresh pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
