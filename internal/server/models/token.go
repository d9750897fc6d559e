package models

import "time"

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"-"`
	RefreshTokenExpiresAt time.Time `json:"-"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User *PublicAccount `json:"user"`
	TokenPair
}
