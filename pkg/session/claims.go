package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// TokenType distinguishes access and refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	ErrExpired        = errors.New("token expired")
	ErrMalformed      = errors.New("token malformed")
	ErrTenantMismatch = errors.New("token issued for another tenant")
	ErrWeakSecret     = errors.New("signing secret must be at least 32 characters")
)

// Claims is the signed session payload
type Claims struct {
	UserID    int64     `json:"uid"`
	TenantID  int64     `json:"tid"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	SessionID string    `json:"sid"`
	Type      TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns iat, or the zero time when absent
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Subject identifies who a token pair is minted for
type Subject struct {
	UserID   int64
	TenantID int64
	Email    string
	Roles    []string

	// Origin labels the login path for metrics, e.g. "local" or "saml"
	Origin string
}

// TokenPair is returned on login and refresh
type TokenPair struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	SessionID    string    `json:"-"`
}

// WithClaims attaches verified claims to ctx, along with the IDs the logger reads
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = contextkeys.WithClaims(ctx, claims)
	ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(claims.UserID, 10))
	return contextkeys.WithTenantID(ctx, strconv.FormatInt(claims.TenantID, 10))
}

// ClaimsFromContext returns the claims attached by Middleware
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextkeys.ClaimsKey).(*Claims)
	return claims, ok && claims != nil
}
