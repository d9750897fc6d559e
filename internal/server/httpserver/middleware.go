package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/vidtube/internal/apperr"
	"github.com/dmitrijs2005/vidtube/internal/common"
	"github.com/dmitrijs2005/vidtube/internal/logging"
	"github.com/dmitrijs2005/vidtube/internal/server/models"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const accountKey contextKey = "account"

// AccountFromContext returns the account attached by the auth gate.
func AccountFromContext(ctx context.Context) (*models.PublicAccount, bool) {
	a, ok := ctx.Value(accountKey).(*models.PublicAccount)
	return a, ok && a != nil
}

// accessToken reads the access token from the cookie, then from the
// Authorization header.
func accessToken(r *http.Request) string {
	if v := cookieValue(r, common.AccessTokenCookieName); v != "" {
		return v
	}
	h := r.Header.Get(common.AuthorizationHeaderName)
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Authenticator resolves an access token to an account.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.PublicAccount, error)
}

// RequireAuth rejects requests without a valid access token and attaches the
// account to the request context.
func RequireAuth(a Authenticator, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := accessToken(r)
			if token == "" {
				respondError(r.Context(), w, log, apperr.Unauthorized("Unauthorized request"))
				return
			}
			account, err := a.Authenticate(r.Context(), token)
			if err != nil {
				respondError(r.Context(), w, log, err)
				return
			}
			ctx := context.WithValue(r.Context(), accountKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
