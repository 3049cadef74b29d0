package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// MinSecretLength is the shortest accepted HS256 secret
const MinSecretLength = 32

// Config configures token issuance
type Config struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Optional collaborators
	Audit   audit.Logger
	Metrics *observability.Metrics

	// Now overrides the clock in tests
	Now func() time.Time
}

// Service issues, verifies, refreshes and revokes session tokens
type Service struct {
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	revocations RevocationStore
	audit       audit.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewService creates a token service. Startup must abort when it fails.
func NewService(cfg Config, revocations RevocationStore) (*Service, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if revocations == nil {
		return nil, fmt.Errorf("revocation store is required")
	}

	s := &Service{
		secret:      []byte(cfg.Secret),
		issuer:      cfg.Issuer,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		revocations: revocations,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}
	if s.issuer == "" {
		s.issuer = "gatehouse"
	}
	if s.accessTTL <= 0 {
		s.accessTTL = time.Hour
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = 7 * 24 * time.Hour
	}
	if s.audit == nil {
		s.audit = audit.NopLogger()
	}
	if s.metrics == nil {
		s.metrics = observability.NewTestMetrics()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// RefreshTTL returns the refresh token lifetime
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// Issue mints an access and a refresh token sharing a fresh session ID
func (s *Service) Issue(ctx context.Context, subject Subject) (*TokenPair, error) {
	now := s.now()
	sid := uuid.NewString()

	access, accessClaims, err := s.sign(subject, sid, TokenTypeAccess, now, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.sign(subject, sid, TokenTypeRefresh, now, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	origin := subject.Origin
	if origin == "" {
		origin = "unknown"
	}
	s.metrics.TokensIssuedTotal.WithLabelValues(origin).Inc()
	s.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthTokenCreate, audit.EventStatusSuccess).
		WithTenant(subject.TenantID).
		WithUser(subject.UserID).
		WithMeta("origin", origin))

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessClaims.ExpiresAt.Time,
		SessionID:    sid,
	}, nil
}

func (s *Service) sign(subject Subject, sid string, typ TokenType, now time.Time, ttl time.Duration) (string, *Claims, error) {
	claims := &Claims{
		UserID:    subject.UserID,
		TenantID:  subject.TenantID,
		Email:     subject.Email,
		Roles:     subject.Roles,
		SessionID: sid,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, claims, nil
}

// parse verifies signature, algorithm, issuer, expiry and token type
func (s *Service) parse(token string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}
	if claims.Type != want || claims.SessionID == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Verify checks an access token. A tenantID of 0 skips the tenant binding check.
func (s *Service) Verify(ctx context.Context, token string, tenantID int64) (*Claims, error) {
	claims, err := s.parse(token, TokenTypeAccess)
	if err == nil && tenantID != 0 && claims.TenantID != tenantID {
		err = ErrTenantMismatch
	}

	if err != nil {
		s.metrics.TokenVerifyTotal.WithLabelValues(verifyOutcome(err)).Inc()
		event := audit.NewEvent(ctx, audit.EventTypeAuthTokenValidateFail, audit.EventStatusFailure).
			WithMeta("reason", verifyOutcome(err))
		if tenantID != 0 {
			event.WithTenant(tenantID)
		}
		s.audit.Log(ctx, event)
		return nil, err
	}

	s.metrics.TokenVerifyTotal.WithLabelValues("valid").Inc()
	return claims, nil
}

// VerifyLoginCode exchanges a freshly issued access token for its claims.
// The local identity provider uses it as its authorization code.
func (s *Service) VerifyLoginCode(ctx context.Context, code string) (*Claims, error) {
	return s.Verify(ctx, code, 0)
}

// Refresh mints a new access token from a refresh token. It returns nil, nil
// whenever the caller has to re-authenticate; errors mean the denylist could
// not be consulted. The refresh token is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string, tenantID int64) (*TokenPair, error) {
	if refreshToken == "" {
		s.metrics.TokenRefreshesTotal.WithLabelValues("rejected").Inc()
		return nil, nil
	}

	claims, err := s.parse(refreshToken, TokenTypeRefresh)
	if err != nil || (tenantID != 0 && claims.TenantID != tenantID) {
		s.metrics.TokenRefreshesTotal.WithLabelValues("rejected").Inc()
		return nil, nil
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.SessionID)
	if err != nil {
		s.metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to check session revocation: %w", err)
	}
	if revoked {
		s.metrics.TokenRefreshesTotal.WithLabelValues("revoked").Inc()
		return nil, nil
	}

	subject := Subject{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Email:    claims.Email,
		Roles:    claims.Roles,
	}
	access, accessClaims, err := s.sign(subject, claims.SessionID, TokenTypeAccess, s.now(), s.accessTTL)
	if err != nil {
		return nil, err
	}

	s.metrics.TokenRefreshesTotal.WithLabelValues("refreshed").Inc()
	s.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthTokenRefresh, audit.EventStatusSuccess).
		WithTenant(claims.TenantID).
		WithUser(claims.UserID))

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    accessClaims.ExpiresAt.Time,
		SessionID:    claims.SessionID,
	}, nil
}

// Logout revokes the refresh chain of claims. Access tokens already issued
// stay valid until they expire.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.SessionID == "" {
		return ErrMalformed
	}

	issuedAt := claims.IssuedAtTime()
	if issuedAt.IsZero() {
		issuedAt = s.now()
	}
	until := issuedAt.Add(s.refreshTTL)

	if err := s.revocations.Revoke(ctx, claims.SessionID, until); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	s.metrics.LogoutsTotal.Inc()
	s.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthLogout, audit.EventStatusSuccess).
		WithTenant(claims.TenantID).
		WithUser(claims.UserID))
	return nil
}

func verifyOutcome(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrTenantMismatch):
		return "tenant_mismatch"
	default:
		return "malformed"
	}
}
