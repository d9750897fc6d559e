// Package services contains server-side business logic. AccountService is the
// session coordinator: registration, login, refresh-token rotation, logout and
// profile maintenance on top of the accounts store.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/vidtube/internal/apperr"
	"github.com/dmitrijs2005/vidtube/internal/common"
	"github.com/dmitrijs2005/vidtube/internal/dbx"
	"github.com/dmitrijs2005/vidtube/internal/logging"
	"github.com/dmitrijs2005/vidtube/internal/server/auth"
	"github.com/dmitrijs2005/vidtube/internal/server/blob"
	"github.com/dmitrijs2005/vidtube/internal/server/metrics"
	"github.com/dmitrijs2005/vidtube/internal/server/models"
	"github.com/dmitrijs2005/vidtube/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/vidtube/internal/server/repositories/repomanager"
)

// Messages shared with the HTTP layer and tests.
const (
	MsgAllFieldsRequired   = "All fields are required"
	MsgUserExists          = "User with email or username already exists"
	MsgAvatarRequired      = "Avatar file is required"
	MsgCoverRequired       = "Cover image file is required"
	MsgAvatarUpload        = "Error while uploading avatar"
	MsgCoverUpload         = "Error while uploading cover image"
	MsgIdentityRequired    = "Username or email is required"
	MsgPasswordRequired    = "Password is required"
	MsgUserNotFound        = "User does not exist"
	MsgInvalidCredentials  = "Invalid user credentials"
	MsgUnauthorized        = "Unauthorized request"
	MsgInvalidAccessToken  = "Invalid access token"
	MsgAccessTokenExpired  = "Access token expired"
	MsgInvalidRefreshToken = "Invalid refresh token"
	MsgRefreshTokenExpired = "Refresh token expired"
	MsgRefreshTokenUsed    = "Refresh token is expired or used"
	MsgInvalidOldPassword  = "Invalid old password"
	MsgPasswordTooLong     = "Password is too long"
)

// RegisterInput carries registration fields. AvatarPath and CoverImagePath are
// local files owned by the caller.
type RegisterInput struct {
	FullName       string
	Email          string
	Username       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

// LoginInput identifies the account by username or email.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *auth.TokenManager
	hasher      auth.PasswordHasher
	uploader    blob.Uploader
	metrics     *metrics.Metrics
	log         logging.Logger
}

// NewAccountService wires the coordinator. db may be nil for the in-memory backend.
func NewAccountService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	tokens *auth.TokenManager,
	hasher auth.PasswordHasher,
	uploader blob.Uploader,
	mt *metrics.Metrics,
	log logging.Logger,
) *AccountService {
	return &AccountService{
		db:          db,
		repomanager: m,
		tokens:      tokens,
		hasher:      hasher,
		uploader:    uploader,
		metrics:     mt,
		log:         log.With("module", "accounts"),
	}
}

func (s *AccountService) repo() accounts.Repository {
	return s.repomanager.Accounts(s.db)
}

// withTx runs fn against a repository bound to one transaction. Without a
// database handle fn gets the shared repository directly.
func (s *AccountService) withTx(ctx context.Context, fn func(ctx context.Context, repo accounts.Repository) error) error {
	if s.db == nil {
		return fn(ctx, s.repo())
	}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, s.repomanager.Accounts(tx))
	})
	if err != nil {
		return apperr.From(err)
	}
	return nil
}

// storeError classifies repository failures that are not handled by the caller.
func storeError(err error) error {
	switch {
	case errors.Is(err, common.ErrorAlreadyExists):
		return apperr.Wrap(apperr.KindConflict, MsgUserExists, err)
	case errors.Is(err, common.ErrorValidation):
		return apperr.Wrap(apperr.KindValidation, MsgAllFieldsRequired, err)
	case errors.Is(err, common.ErrorNotFound):
		return apperr.Wrap(apperr.KindNotFound, MsgUserNotFound, err)
	default:
		return apperr.Internal(err)
	}
}

func (s *AccountService) hashPassword(plain string) (string, error) {
	h, err := s.hasher.Hash(plain)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", apperr.Wrap(apperr.KindValidation, MsgPasswordTooLong, err)
		}
		return "", apperr.Internal(err)
	}
	return h, nil
}

// Register creates an account. The avatar is required, the cover image is
// optional and a failed cover upload is stored as "".
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.PublicAccount, error) {
	a, err := s.register(ctx, in)
	s.metrics.RecordAuth(metrics.EventRegister, err)
	return a, err
}

func (s *AccountService) register(ctx context.Context, in RegisterInput) (*models.PublicAccount, error) {
	for _, f := range []string{in.FullName, in.Email, in.Username, in.Password} {
		if common.IsBlank(f) {
			return nil, apperr.Validation(MsgAllFieldsRequired)
		}
	}

	repo := s.repo()
	_, err := repo.FindByUsernameOrEmail(ctx, in.Username, in.Email)
	switch {
	case err == nil:
		return nil, apperr.Conflict(MsgUserExists)
	case !errors.Is(err, common.ErrorNotFound):
		return nil, apperr.Internal(err)
	}

	if in.AvatarPath == "" {
		return nil, apperr.Validation(MsgAvatarRequired)
	}
	avatarURL, err := s.upload(ctx, "avatar", in.AvatarPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpload, MsgAvatarUpload, err)
	}

	var coverURL string
	if in.CoverImagePath != "" {
		coverURL, err = s.upload(ctx, "cover", in.CoverImagePath)
		if err != nil {
			s.log.Warn(ctx, "cover image upload failed, continuing without it", "error", err)
			coverURL = ""
		}
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	created, err := repo.Create(ctx, &models.Account{
		Username:      in.Username,
		Email:         in.Email,
		FullName:      in.FullName,
		PasswordHash:  hash,
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
	})
	if err != nil {
		// The uploaded media is left in the bucket.
		return nil, storeError(err)
	}

	s.log.Info(ctx, "account registered", "user_id", created.ID)
	return created.Public(), nil
}

// upload returns an error when the uploader fails or yields no URL.
func (s *AccountService) upload(ctx context.Context, kind, path string) (string, error) {
	url, err := s.uploader.Upload(ctx, path)
	if err == nil && url == "" {
		err = errors.New("upload returned no url")
	}
	s.metrics.RecordUpload(kind, err)
	if err != nil {
		return "", err
	}
	return url, nil
}

// Login verifies credentials, issues a token pair and stores the refresh token,
// replacing any earlier one.
func (s *AccountService) Login(ctx context.Context, in LoginInput) (*models.LoginResult, error) {
	res, err := s.login(ctx, in)
	s.metrics.RecordAuth(metrics.EventLogin, err)
	return res, err
}

func (s *AccountService) login(ctx context.Context, in LoginInput) (*models.LoginResult, error) {
	if common.IsBlank(in.Username) && common.IsBlank(in.Email) {
		return nil, apperr.Validation(MsgIdentityRequired)
	}
	if in.Password == "" {
		return nil, apperr.Validation(MsgPasswordRequired)
	}

	repo := s.repo()
	account, err := repo.FindByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, MsgUserNotFound, err)
		}
		return nil, apperr.Internal(err)
	}

	if !s.hasher.Verify(in.Password, account.PasswordHash) {
		return nil, apperr.Unauthorized(MsgInvalidCredentials)
	}

	pair, err := s.tokens.IssuePair(account)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := repo.SetRefreshToken(ctx, account.ID, &pair.RefreshToken); err != nil {
		return nil, storeError(err)
	}

	s.log.Info(ctx, "account logged in", "user_id", account.ID)
	return &models.LoginResult{User: account.Public(), TokenPair: *pair}, nil
}

// Logout unsets the stored refresh token. Issued access tokens stay valid
// until they expire.
func (s *AccountService) Logout(ctx context.Context, id string) error {
	err := s.repo().SetRefreshToken(ctx, id, nil)
	if err != nil {
		err = storeError(err)
	}
	s.metrics.RecordAuth(metrics.EventLogout, err)
	return err
}

// RefreshAccessToken rotates the presented refresh token. A token that
// verifies but is no longer the stored one is rejected.
func (s *AccountService) RefreshAccessToken(ctx context.Context, presented string) (*models.TokenPair, error) {
	pair, err := s.refresh(ctx, presented)
	s.metrics.RecordAuth(metrics.EventRefresh, err)
	return pair, err
}

func (s *AccountService) refresh(ctx context.Context, presented string) (*models.TokenPair, error) {
	if presented == "" {
		return nil, apperr.Unauthorized(MsgUnauthorized)
	}

	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.KindExpiredToken, MsgRefreshTokenExpired, err)
		}
		return nil, apperr.Wrap(apperr.KindInvalidToken, MsgInvalidRefreshToken, err)
	}

	repo := s.repo()
	account, err := repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, apperr.Wrap(apperr.KindUnauthorized, MsgInvalidRefreshToken, err)
		}
		return nil, apperr.Internal(err)
	}

	if account.RefreshToken == nil ||
		subtle.ConstantTimeCompare([]byte(*account.RefreshToken), []byte(presented)) != 1 {
		s.metrics.RecordRefreshRejected()
		s.log.Warn(ctx, "stale refresh token presented", "user_id", account.ID)
		return nil, apperr.Unauthorized(MsgRefreshTokenUsed)
	}

	pair, err := s.tokens.IssuePair(account)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := repo.RotateRefreshToken(ctx, account.ID, presented, pair.RefreshToken); err != nil {
		if errors.Is(err, common.ErrorTokenMismatch) {
			s.metrics.RecordRefreshRejected()
			return nil, apperr.Wrap(apperr.KindUnauthorized, MsgRefreshTokenUsed, err)
		}
		return nil, apperr.Internal(err)
	}

	return pair, nil
}

// ChangePassword replaces the password hash after checking the old password.
// The stored refresh token is left as is.
func (s *AccountService) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	err := s.changePassword(ctx, id, oldPassword, newPassword)
	s.metrics.RecordAuth(metrics.EventChangePassword, err)
	return err
}

func (s *AccountService) changePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return apperr.Validation(MsgAllFieldsRequired)
	}

	return s.withTx(ctx, func(ctx context.Context, repo accounts.Repository) error {
		account, err := repo.FindByID(ctx, id)
		if err != nil {
			return storeError(err)
		}
		if !s.hasher.Verify(oldPassword, account.PasswordHash) {
			return apperr.Validation(MsgInvalidOldPassword)
		}

		hash, err := s.hashPassword(newPassword)
		if err != nil {
			return err
		}
		if err := repo.UpdatePasswordHash(ctx, id, hash); err != nil {
			return storeError(err)
		}
		return nil
	})
}

// SetPassword resets a password without the old one. Operator use only.
func (s *AccountService) SetPassword(ctx context.Context, username, newPassword string) error {
	if common.IsBlank(username) || newPassword == "" {
		return apperr.Validation(MsgAllFieldsRequired)
	}
	return s.withTx(ctx, func(ctx context.Context, repo accounts.Repository) error {
		account, err := repo.FindByUsernameOrEmail(ctx, username, "")
		if err != nil {
			return storeError(err)
		}
		hash, err := s.hashPassword(newPassword)
		if err != nil {
			return err
		}
		if err := repo.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
			return storeError(err)
		}
		s.log.Info(ctx, "password reset by operator", "user_id", account.ID)
		return nil
	})
}

// CurrentUser returns the account resolved by Authenticate; no store round trip.
func (s *AccountService) CurrentUser(_ context.Context, a *models.PublicAccount) (*models.PublicAccount, error) {
	if a == nil {
		return nil, apperr.Unauthorized(MsgUnauthorized)
	}
	return a, nil
}

// Authenticate verifies an access token and loads its account.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*models.PublicAccount, error) {
	if token == "" {
		return nil, apperr.Unauthorized(MsgUnauthorized)
	}
	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.KindExpiredToken, MsgAccessTokenExpired, err)
		}
		return nil, apperr.Wrap(apperr.KindInvalidToken, MsgInvalidAccessToken, err)
	}

	account, err := s.repo().FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, apperr.Wrap(apperr.KindUnauthorized, MsgInvalidAccessToken, err)
		}
		return nil, apperr.Internal(err)
	}
	return account.Public(), nil
}

// UpdateProfile changes full name and email only.
func (s *AccountService) UpdateProfile(ctx context.Context, id, fullName, email string) (*models.PublicAccount, error) {
	if common.IsBlank(fullName) || common.IsBlank(email) {
		return nil, apperr.Validation(MsgAllFieldsRequired)
	}
	a, err := s.repo().UpdateProfile(ctx, id, fullName, email)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, apperr.Wrap(apperr.KindConflict, "Email is already in use", err)
		}
		return nil, storeError(err)
	}
	return a.Public(), nil
}

// UpdateAvatar uploads localPath and stores it as the avatar.
func (s *AccountService) UpdateAvatar(ctx context.Context, id, localPath string) (*models.PublicAccount, error) {
	if localPath == "" {
		return nil, apperr.Validation(MsgAvatarRequired)
	}
	url, err := s.upload(ctx, "avatar", localPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpload, MsgAvatarUpload, err)
	}
	a, err := s.repo().UpdateAvatar(ctx, id, url)
	if err != nil {
		return nil, storeError(err)
	}
	return a.Public(), nil
}

// UpdateCoverImage uploads localPath and stores it as the cover image.
func (s *AccountService) UpdateCoverImage(ctx context.Context, id, localPath string) (*models.PublicAccount, error) {
	if localPath == "" {
		return nil, apperr.Validation(MsgCoverRequired)
	}
	url, err := s.upload(ctx, "cover", localPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpload, MsgCoverUpload, err)
	}
	a, err := s.repo().UpdateCoverImage(ctx, id, url)
	if err != nil {
		return nil, storeError(err)
	}
	return a.Public(), nil
}
