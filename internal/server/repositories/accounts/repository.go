// Package accounts declares the credential store contract and its
// PostgreSQL and in-memory implementations.
package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vidtube/internal/common"
	"github.com/dmitrijs2005/vidtube/internal/server/models"
)

// Repository stores one record per account. Username and email are unique and
// stored normalized; lookups by either are case-insensitive.
//
// Implementations never hash passwords: callers pass an already computed hash,
// so saving an account can never re-hash an existing hash.
type Repository interface {
	// Create inserts a new account. It fails with common.ErrorValidation when a
	// required field is blank and common.ErrorAlreadyExists on a duplicate
	// username or email. An empty ID is generated.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)

	// FindByID returns common.ErrorNotFound when no account has id.
	FindByID(ctx context.Context, id string) (*models.Account, error)

	// FindByUsernameOrEmail returns the account matching either value. Blank
	// values never match.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error)

	// UpdateProfile replaces full name and email only.
	UpdateProfile(ctx context.Context, id, fullName, email string) (*models.Account, error)
	UpdateAvatar(ctx context.Context, id, url string) (*models.Account, error)
	UpdateCoverImage(ctx context.Context, id, url string) (*models.Account, error)

	// UpdatePasswordHash replaces the stored hash without touching other fields.
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// SetRefreshToken overwrites the stored refresh token; nil unsets it.
	SetRefreshToken(ctx context.Context, id string, token *string) error

	// RotateRefreshToken replaces presented with next only if presented is
	// still the stored token, otherwise it returns common.ErrorTokenMismatch.
	RotateRefreshToken(ctx context.Context, id, presented, next string) error
}

// normalize trims identity fields and lowercases username and email.
func normalize(a *models.Account) {
	a.Username = common.NormalizeIdentity(a.Username)
	a.Email = common.NormalizeIdentity(a.Email)
	a.FullName = strings.TrimSpace(a.FullName)
}

// validateNew checks the fields required to create an account.
func validateNew(a *models.Account) error {
	required := []struct {
		name  string
		value string
	}{
		{"username", a.Username},
		{"email", a.Email},
		{"fullName", a.FullName},
		{"password", a.PasswordHash},
		{"avatar", a.AvatarURL},
	}
	for _, f := range required {
		if common.IsBlank(f.value) {
			return fmt.Errorf("%w: %s is required", common.ErrorValidation, f.name)
		}
	}
	return nil
}
