// Package common contains shared constants and sentinel errors used across
// vidtube components.
package common

// Transport-level credential names. The same names are used for the cookies
// set on login/refresh and for the JSON fields of the token response.
const (
	AccessTokenCookieName  = "accessToken"
	RefreshTokenCookieName = "refreshToken"
)

// AuthorizationHeaderName carries "Bearer <token>" for non-browser clients.
const AuthorizationHeaderName = "Authorization"
