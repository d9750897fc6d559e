package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/vidtube/internal/apperr"
	"github.com/dmitrijs2005/vidtube/internal/common"
	"github.com/dmitrijs2005/vidtube/internal/filex"
	"github.com/dmitrijs2005/vidtube/internal/logging"
	"github.com/dmitrijs2005/vidtube/internal/server/models"
	"github.com/dmitrijs2005/vidtube/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// AccountManager is the subset of services.AccountService the handlers use.
type AccountManager interface {
	Authenticator
	Register(ctx context.Context, in services.RegisterInput) (*models.PublicAccount, error)
	Login(ctx context.Context, in services.LoginInput) (*models.LoginResult, error)
	Logout(ctx context.Context, id string) error
	RefreshAccessToken(ctx context.Context, token string) (*models.TokenPair, error)
	ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error
	CurrentUser(ctx context.Context, a *models.PublicAccount) (*models.PublicAccount, error)
	UpdateProfile(ctx context.Context, id, fullName, email string) (*models.PublicAccount, error)
	UpdateAvatar(ctx context.Context, id, localPath string) (*models.PublicAccount, error)
	UpdateCoverImage(ctx context.Context, id, localPath string) (*models.PublicAccount, error)
}

// UserHandler serves /api/v1/users.
type UserHandler struct {
	accounts     AccountManager
	validate     *validator.Validate
	log          logging.Logger
	uploadDir    string
	maxUpload    int64
	secureCookie bool
}

type HandlerConfig struct {
	UploadDir    string
	MaxUpload    int64
	SecureCookie bool
}

func NewUserHandler(accounts AccountManager, log logging.Logger, cfg HandlerConfig) *UserHandler {
	return &UserHandler{
		accounts:     accounts,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          log,
		uploadDir:    cfg.UploadDir,
		maxUpload:    cfg.MaxUpload,
		secureCookie: cfg.SecureCookie,
	}
}

// Routes returns a chi router with user routes.
func (h *UserHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/refresh-token", h.RefreshToken)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.accounts, h.log))
		r.Post("/logout", h.Logout)
		r.Post("/change-password", h.ChangePassword)
		r.Get("/current-user", h.CurrentUser)
		r.Patch("/update-account", h.UpdateAccount)
		r.Patch("/avatar", h.UpdateAvatar)
		r.Patch("/cover-image", h.UpdateCoverImage)
	})

	return r
}

type LoginRequest struct {
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,max=72"`
}

type UpdateAccountRequest struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

// decode reads a JSON body into dst and runs struct validation. An empty body
// decodes to the zero value when allowEmpty is set.
func (h *UserHandler) decode(r *http.Request, dst any, allowEmpty bool) ([]string, error) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return nil, apperr.Wrap(apperr.KindValidation, "Invalid request body", err)
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationDetails(err), apperr.Wrap(apperr.KindValidation, "Invalid request fields", err)
	}
	return nil, nil
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required", "required_without":
			out = append(out, field+" is required")
		case "email":
			out = append(out, field+" must be a valid email")
		case "max":
			out = append(out, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			out = append(out, field+" is invalid")
		}
	}
	return out
}

// saveFormFile stages the named multipart file in the upload dir. A missing
// file yields "" and no error.
func (h *UserHandler) saveFormFile(r *http.Request, field string) (string, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", apperr.Wrap(apperr.KindValidation, "Invalid multipart form", err)
	}
	defer f.Close()

	if h.maxUpload > 0 && hdr.Size > h.maxUpload {
		return "", apperr.Validation(fmt.Sprintf("File %s is too large", field))
	}
	path, err := filex.SaveTemp(h.uploadDir, filepath.Ext(hdr.Filename), f)
	if err != nil {
		return "", apperr.Internal(err)
	}
	return path, nil
}

func (h *UserHandler) parseMultipart(r *http.Request) error {
	limit := h.maxUpload
	if limit <= 0 {
		limit = 32 << 20
	}
	if err := r.ParseMultipartForm(limit); err != nil {
		return apperr.Wrap(apperr.KindValidation, "Invalid multipart form", err)
	}
	return nil
}

func (h *UserHandler) cleanup(ctx context.Context, paths ...string) {
	for _, p := range paths {
		if err := filex.Remove(p); err != nil {
			h.log.Warn(ctx, "failed to remove temp upload", "path", p, "error", err)
		}
	}
}

// Register handles POST /register (multipart).
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.parseMultipart(r); err != nil {
		respondError(ctx, w, h.log, err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	avatar, err := h.saveFormFile(r, "avatar")
	if err != nil {
		respondError(ctx, w, h.log, err)
		return
	}
	cover, err := h.saveFormFile(r, "coverImage")
	if err != nil {
		h.cleanup(ctx, avatar)
		respondError(ctx, w, h.log, err)
		return
	}
	defer h.cleanup(ctx, avatar, cover)

	account, err := h.accounts.Register(ctx, services.RegisterInput{
		FullName:       r.FormValue("fullName"),
		Email:          r.FormValue("email"),
		Username:       r.FormValue("username"),
		Password:       r.FormValue("password"),
		AvatarPath:     avatar,
		CoverImagePath: cover,
	})
	if err != nil {
		respondError(ctx, w, h.log, err)
		return
	}

	respondOK(w, http.StatusCreated, account, "User registered successfully")
}

// Login handles POST /login.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req LoginRequest
	if details, err := h.decode(r, &req, false); err != nil {
		respondError(ctx, w, h.log, err, details...)
		return
	}

	res, err := h.accounts.Login(ctx, services.LoginInput{Username: req.Username, Email: req.Email, Password: req.Password})
	if err != nil {
		respondError(ctx, w, h.log, err)
		return
	}

	setAuthCookies(w, &res.TokenPair, h.secureCookie)
	respondOK(w, http.StatusOK, res, "User logged in successfully")
}

// Logout handles POST /logout.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, _ := AccountFromContext(ctx)

	if err := h.accounts.Logout(ctx, account.ID); err != nil {
		respondError(ctx, w, h.log, err)
		return
	}

	clearAuthCookies(w, h.secureCookie)
	respondOK(w, http.StatusOK, nil, "User logged out")
}

// RefreshToken handles POST /refresh-token. The cookie wins over the body.
func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := cookieValue(r, common.RefreshTokenCookieName)
	if token == "" {
		var req RefreshRequest
		if details, err := h.decode(r, &req, true); err != nil {
			respondError(ctx, w, h.log, err, details...)
			return
		}
		token = req.RefreshToken
	}

	pair, err := h.accounts.RefreshAccessToken(ctx, token)
	if err != nil {
		respondError(ctx, w, h.log, err)
		return
	}

	setAuthCookies(w, pair, h.secureCookie)
	respondOK(w, http.StatusOK, pair, "Access token refreshed")
}

// ChangePassword handles POST /change-password.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, _ := AccountFromContext(ctx)

	var req ChangePasswordRequest
	if details, err := h.decode(r, &req, false); err != nil {
		respondError(ctx, w, h.log, err, details...)
		return
	}
	if err := h.accounts.ChangePassword(ctx, account.ID, req.OldPassword, req.NewPassword); err != nil {
		respondError(ctx, w, h.log, err)
		return
	}

	respondOK(w, http.StatusOK, nil, "Password changed successfully")
}

// CurrentUser handles GET /current-user.
func (h *UserHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, _ := AccountFromContext(ctx)

	u, err := h.accounts.CurrentUser(ctx, account)
	if err != nil {
		respondError(ctx, w, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, u, "Current user fetched successfully")
}

// UpdateAccount handles PATCH /update-account.
func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, _ := AccountFromContext(ctx)

	var req UpdateAccountRequest
	if details, err := h.decode(r, &req, false); err != nil {
		respondError(ctx, w, h.log, err, details...)
		return
	}
	u, err := h.accounts.UpdateProfile(ctx, account.ID, req.FullName, req.Email)
	if err != nil {
		respondError(ctx, w, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, u, "Account details updated successfully")
}

type mediaUpdate func(ctx context.Context, id, localPath string) (*models.PublicAccount, error)

func (h *UserHandler) updateMedia(w http.ResponseWriter, r *http.Request, field string, update mediaUpdate, message string) {
	ctx := r.Context()
	account, _ := AccountFromContext(ctx)

	if err := h.parseMultipart(r); err != nil {
		respondError(ctx, w, h.log, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	path, err := h.saveFormFile(r, field)
	if err != nil {
		respondError(ctx, w, h.log, err)
		return
	}
	defer h.cleanup(ctx, path)

	u, err := update(ctx, account.ID, path)
	if err != nil {
		respondError(ctx, w, h.log, err)
		return
	}
	respondOK(w, http.StatusOK, u, message)
}

// UpdateAvatar handles PATCH /avatar.
func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateMedia(w, r, "avatar", h.accounts.UpdateAvatar, "Avatar image updated successfully")
}

// UpdateCoverImage handles PATCH /cover-image.
func (h *UserHandler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateMedia(w, r, "coverImage", h.accounts.UpdateCoverImage, "Cover image updated successfully")
}
