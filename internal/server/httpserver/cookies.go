package httpserver

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/vidtube/internal/common"
	"github.com/dmitrijs2005/vidtube/internal/server/models"
)

func tokenCookie(name, value string, expires time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func setAuthCookies(w http.ResponseWriter, pair *models.TokenPair, secure bool) {
	http.SetCookie(w, tokenCookie(common.AccessTokenCookieName, pair.AccessToken, pair.AccessTokenExpiresAt, secure))
	http.SetCookie(w, tokenCookie(common.RefreshTokenCookieName, pair.RefreshToken, pair.RefreshTokenExpiresAt, secure))
}

func clearAuthCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{common.AccessTokenCookieName, common.RefreshTokenCookieName} {
		c := tokenCookie(name, "", time.Unix(0, 0), secure)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
