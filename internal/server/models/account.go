// Package models defines the account record persisted by the credential
// store and the views handed out to callers.
package models

import "time"

// Account is the stored credential record. PasswordHash and RefreshToken are
// sensitive and never leave the service layer; use Public for responses.
type Account struct {
	ID            string
	Username      string
	Email         string
	FullName      string
	PasswordHash  string
	AvatarURL     string
	CoverImageURL string
	// RefreshToken is nil when no session is active.
	RefreshToken *string
	WatchHistory []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicAccount is an Account without credential material.
type PublicAccount struct {
	ID            string    `json:"_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"fullName"`
	AvatarURL     string    `json:"avatar"`
	CoverImageURL string    `json:"coverImage"`
	WatchHistory  []string  `json:"watchHistory"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Public returns the externally visible view of a.
func (a *Account) Public() *PublicAccount {
	history := make([]string, len(a.WatchHistory))
	copy(history, a.WatchHistory)
	return &PublicAccount{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		FullName:      a.FullName,
		AvatarURL:     a.AvatarURL,
		CoverImageURL: a.CoverImageURL,
		WatchHistory:  history,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	c := *a
	if a.RefreshToken != nil {
		t := *a.RefreshToken
		c.RefreshToken = &t
	}
	c.WatchHistory = append([]string(nil), a.WatchHistory...)
	return &c
}
