// Package auth issues and verifies signed session tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vidtube/internal/common"
	"github.com/dmitrijs2005/vidtube/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// TokenKind tells access and refresh tokens apart; it travels in the "typ" claim.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Claims carried by both token kinds. Refresh tokens only fill UserID.
type Claims struct {
	jwt.RegisteredClaims
	Kind     TokenKind `json:"typ"`
	UserID   string    `json:"id"`
	Email    string    `json:"email,omitempty"`
	Username string    `json:"username,omitempty"`
	FullName string    `json:"fullName,omitempty"`
}

// TokenConfig holds signing secrets and lifetimes.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func (c TokenConfig) validate() error {
	switch {
	case len(c.AccessSecret) == 0 || len(c.RefreshSecret) == 0:
		return errors.New("token secrets must not be empty")
	case string(c.AccessSecret) == string(c.RefreshSecret):
		return errors.New("access and refresh secrets must differ")
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return errors.New("token lifetimes must be positive")
	}
	return nil
}

// TokenManager signs and verifies HS256 tokens.
type TokenManager struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &TokenManager{cfg: cfg, now: time.Now}, nil
}

func (m *TokenManager) sign(claims Claims, secret []byte, ttl time.Duration) (string, time.Time, error) {
	jti, err := common.MakeRandHexString(16)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token id: %w", err)
	}
	now := m.now()
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        jti,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// IssueAccessToken returns a token carrying the account's identity fields.
func (m *TokenManager) IssueAccessToken(a *models.Account) (string, time.Time, error) {
	return m.sign(Claims{
		Kind:     AccessToken,
		UserID:   a.ID,
		Email:    a.Email,
		Username: a.Username,
		FullName: a.FullName,
	}, m.cfg.AccessSecret, m.cfg.AccessTTL)
}

// IssueRefreshToken returns a token carrying only the account id.
func (m *TokenManager) IssueRefreshToken(a *models.Account) (string, time.Time, error) {
	return m.sign(Claims{Kind: RefreshToken, UserID: a.ID}, m.cfg.RefreshSecret, m.cfg.RefreshTTL)
}

// IssuePair issues both tokens for a.
func (m *TokenManager) IssuePair(a *models.Account) (*models.TokenPair, error) {
	access, accessExp, err := m.IssueAccessToken(a)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := m.IssueRefreshToken(a)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess checks signature, expiry and kind of an access token.
func (m *TokenManager) VerifyAccess(token string) (*Claims, error) {
	return m.verify(token, m.cfg.AccessSecret, AccessToken)
}

// VerifyRefresh checks signature, expiry and kind of a refresh token.
func (m *TokenManager) VerifyRefresh(token string) (*Claims, error) {
	return m.verify(token, m.cfg.RefreshSecret, RefreshToken)
}

// verify returns common.ErrTokenExpired for a well-signed but expired token
// and common.ErrInvalidToken for everything else.
func (m *TokenManager) verify(tokenString string, secret []byte, kind TokenKind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	if !token.Valid || claims.Kind != kind || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
