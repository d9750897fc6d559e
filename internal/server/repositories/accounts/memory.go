package accounts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/vidtube/internal/common"
	"github.com/dmitrijs2005/vidtube/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used for local development
// and tests. Every read returns a copy.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]*models.Account),
		now:      time.Now,
	}
}

// conflict reports a clash on username or email with an account other than id.
func (r *MemoryRepository) conflict(id, username, email string) error {
	for _, a := range r.accounts {
		if a.ID == id {
			continue
		}
		if username != "" && a.Username == username {
			return fmt.Errorf("%w: accounts_username_key", common.ErrorAlreadyExists)
		}
		if email != "" && a.Email == email {
			return fmt.Errorf("%w: accounts_email_key", common.ErrorAlreadyExists)
		}
	}
	return nil
}

func (r *MemoryRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	a := account.Clone()
	normalize(a)
	if err := validateNew(a); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, ok := r.accounts[a.ID]; ok {
		return nil, fmt.Errorf("%w: accounts_pkey", common.ErrorAlreadyExists)
	}
	if err := r.conflict(a.ID, a.Username, a.Email); err != nil {
		return nil, err
	}
	if a.WatchHistory == nil {
		a.WatchHistory = []string{}
	}
	a.RefreshToken = nil
	a.CreatedAt = r.now().UTC()
	a.UpdatedAt = a.CreatedAt

	r.accounts[a.ID] = a
	return a.Clone(), nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error) {
	username = common.NormalizeIdentity(username)
	email = common.NormalizeIdentity(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *models.Account
	for _, a := range r.accounts {
		if (username != "" && a.Username == username) || (email != "" && a.Email == email) {
			if found == nil || a.CreatedAt.Before(found.CreatedAt) {
				found = a
			}
		}
	}
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found.Clone(), nil
}

// mutate applies fn to the stored account under the write lock.
func (r *MemoryRepository) mutate(id string, touch bool, fn func(a *models.Account) error) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	if touch {
		a.UpdatedAt = r.now().UTC()
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) UpdateProfile(ctx context.Context, id, fullName, email string) (*models.Account, error) {
	email = common.NormalizeIdentity(email)
	return r.mutate(id, true, func(a *models.Account) error {
		if err := r.conflict(id, "", email); err != nil {
			return err
		}
		a.FullName = strings.TrimSpace(fullName)
		a.Email = email
		return nil
	})
}

func (r *MemoryRepository) UpdateAvatar(ctx context.Context, id, url string) (*models.Account, error) {
	return r.mutate(id, true, func(a *models.Account) error {
		a.AvatarURL = url
		return nil
	})
}

func (r *MemoryRepository) UpdateCoverImage(ctx context.Context, id, url string) (*models.Account, error) {
	return r.mutate(id, true, func(a *models.Account) error {
		a.CoverImageURL = url
		return nil
	})
}

func (r *MemoryRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	_, err := r.mutate(id, true, func(a *models.Account) error {
		a.PasswordHash = hash
		return nil
	})
	return err
}

func (r *MemoryRepository) SetRefreshToken(ctx context.Context, id string, token *string) error {
	_, err := r.mutate(id, false, func(a *models.Account) error {
		if token == nil {
			a.RefreshToken = nil
			return nil
		}
		t := *token
		a.RefreshToken = &t
		return nil
	})
	return err
}

func (r *MemoryRepository) RotateRefreshToken(ctx context.Context, id, presented, next string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok || a.RefreshToken == nil || *a.RefreshToken != presented {
		return common.ErrorTokenMismatch
	}
	a.RefreshToken = &next
	return nil
}
