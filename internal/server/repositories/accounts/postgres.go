package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vidtube/internal/common"
	"github.com/dmitrijs2005/vidtube/internal/dbx"
	"github.com/dmitrijs2005/vidtube/internal/server/models"
	"github.com/google/uuid"
)

const accountColumns = `id, username, email, full_name, password_hash, avatar_url,
		cover_image_url, refresh_token, watch_history, created_at, updated_at`

// PostgresRepository implements Repository over dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanAccount(row interface{ Scan(dest ...any) error }) (*models.Account, error) {
	var (
		a       models.Account
		token   sql.NullString
		history []byte
	)
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.FullName, &a.PasswordHash, &a.AvatarURL,
		&a.CoverImageURL, &token, &history, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if token.Valid {
		a.RefreshToken = &token.String
	}
	a.WatchHistory = []string{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &a.WatchHistory); err != nil {
			return nil, fmt.Errorf("decode watch history: %w", err)
		}
	}
	return &a, nil
}

func mapWriteError(err error) error {
	if constraint, ok := dbx.UniqueViolation(err); ok {
		return fmt.Errorf("%w: %s", common.ErrorAlreadyExists, constraint)
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	a := account.Clone()
	normalize(a)
	if err := validateNew(a); err != nil {
		return nil, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.WatchHistory == nil {
		a.WatchHistory = []string{}
	}
	history, err := json.Marshal(a.WatchHistory)
	if err != nil {
		return nil, fmt.Errorf("encode watch history: %w", err)
	}

	query := `
		INSERT INTO accounts (id, username, email, full_name, password_hash, avatar_url, cover_image_url, watch_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, a.ID, a.Username, a.Email, a.FullName, a.PasswordHash,
		a.AvatarURL, a.CoverImageURL, string(history)).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	a.RefreshToken = nil

	return a, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error) {
	username = common.NormalizeIdentity(username)
	email = common.NormalizeIdentity(email)
	if username == "" && email == "" {
		return nil, common.ErrorNotFound
	}

	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)
		ORDER BY created_at
		LIMIT 1`
	return scanAccount(r.db.QueryRowContext(ctx, query, username, email))
}

func (r *PostgresRepository) updateReturning(ctx context.Context, query string, args ...any) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: %s", common.ErrorAlreadyExists, constraint)
		}
		return nil, err
	}
	return a, nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id, fullName, email string) (*models.Account, error) {
	query := `UPDATE accounts SET full_name = $2, email = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + accountColumns
	return r.updateReturning(ctx, query, id, fullName, common.NormalizeIdentity(email))
}

func (r *PostgresRepository) UpdateAvatar(ctx context.Context, id, url string) (*models.Account, error) {
	query := `UPDATE accounts SET avatar_url = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + accountColumns
	return r.updateReturning(ctx, query, id, url)
}

func (r *PostgresRepository) UpdateCoverImage(ctx context.Context, id, url string) (*models.Account, error) {
	query := `UPDATE accounts SET cover_image_url = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + accountColumns
	return r.updateReturning(ctx, query, id, url)
}

func (r *PostgresRepository) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	query := `UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, common.ErrorNotFound, query, id, hash)
}

func (r *PostgresRepository) SetRefreshToken(ctx context.Context, id string, token *string) error {
	var value any
	if token != nil {
		value = *token
	}
	query := `UPDATE accounts SET refresh_token = $2 WHERE id = $1`
	return r.execOne(ctx, common.ErrorNotFound, query, id, value)
}

func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, id, presented, next string) error {
	query := `UPDATE accounts SET refresh_token = $3 WHERE id = $1 AND refresh_token = $2`
	return r.execOne(ctx, common.ErrorTokenMismatch, query, id, presented, next)
}
