// Package common defines shared constants and sentinel errors used across
// the storage, token and service layers. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")
	ErrorValidation    = errors.New("validation error")

	// ErrorTokenMismatch is returned by a compare-and-swap refresh token
	// update when the stored token is no longer the presented one.
	ErrorTokenMismatch = errors.New("refresh token mismatch")

	// Token verification errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
