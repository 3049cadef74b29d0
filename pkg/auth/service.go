package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// TokenIssuer mints session tokens
type TokenIssuer interface {
	Issue(ctx context.Context, subject session.Subject) (*session.TokenPair, error)
}

// RoleSource returns the role names embedded in tokens
type RoleSource interface {
	RoleNames(ctx context.Context, tenantID, userID int64) ([]string, error)
}

// Service authenticates local users and provisions SSO identities
type Service struct {
	users  UserStore
	tokens TokenIssuer
	roles  RoleSource
	audit  audit.Logger
	now    func() time.Time

	onProvision func(ctx context.Context, user *User) error
}

// NewService creates the user service. roles and auditLogger may be nil.
func NewService(users UserStore, tokens TokenIssuer, roles RoleSource, auditLogger audit.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	return &Service{
		users:  users,
		tokens: tokens,
		roles:  roles,
		audit:  auditLogger,
		now:    time.Now,
	}
}

// OnProvision registers a hook run once for each user created by Provision.
// A hook error fails the login but keeps the user.
func (s *Service) OnProvision(fn func(ctx context.Context, user *User) error) {
	s.onProvision = fn
}

// LoginResult is returned from a successful password login
type LoginResult struct {
	*session.TokenPair
	User *User `json:"user"`
}

// Login verifies email and password within a tenant and issues a token pair.
// Unknown users, SSO-only users and wrong passwords all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, tenantID int64, email, password string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, tenantID, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if user == nil || !user.HasPassword() {
		compareDummy(password)
		s.loginFailed(ctx, tenantID, 0, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.loginFailed(ctx, tenantID, user.ID, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		s.loginFailed(ctx, tenantID, user.ID, "suspended")
		return nil, ErrUserSuspended
	}

	pair, err := s.issue(ctx, user, "local")
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: pair, User: user}, nil
}

// IssueFor mints a token pair for an already authenticated user
func (s *Service) IssueFor(ctx context.Context, user *User, origin string) (*session.TokenPair, error) {
	if !user.IsActive() {
		return nil, ErrUserSuspended
	}
	return s.issue(ctx, user, origin)
}

func (s *Service) issue(ctx context.Context, user *User, origin string) (*session.TokenPair, error) {
	var roles []string
	if s.roles != nil {
		names, err := s.roles.RoleNames(ctx, user.TenantID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load roles: %w", err)
		}
		roles = names
	}

	pair, err := s.tokens.Issue(ctx, session.Subject{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Email:    user.Email,
		Roles:    roles,
		Origin:   origin,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to record last login")
	} else {
		user.LastLoginAt = &now
	}

	s.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthLogin, audit.EventStatusSuccess).
		WithTenant(user.TenantID).
		WithUser(user.ID).
		WithMeta("origin", origin))
	return pair, nil
}

func (s *Service) loginFailed(ctx context.Context, tenantID, userID int64, reason string) {
	event := audit.NewEvent(ctx, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure).
		WithTenant(tenantID).
		WithMeta("reason", reason)
	if userID != 0 {
		event.WithUser(userID)
	}
	s.audit.Log(ctx, event)
}

// Provision returns the tenant user with email, creating it on first login.
// Existing users are matched on the normalized email.
func (s *Service) Provision(ctx context.Context, tenantID int64, email, name string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("identity has no email")
	}

	user, err := s.users.GetByEmail(ctx, tenantID, email)
	if err == nil {
		if !user.IsActive() {
			return nil, ErrUserSuspended
		}
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user = &User{TenantID: tenantID, Email: email, Name: name, Status: UserStatusActive}
	if err := s.users.Create(ctx, user); err != nil {
		if !errors.Is(err, ErrUserExists) {
			return nil, err
		}
		// Lost a race with a concurrent first login
		user, err = s.users.GetByEmail(ctx, tenantID, email)
		if err != nil {
			return nil, err
		}
		if !user.IsActive() {
			return nil, ErrUserSuspended
		}
		return user, nil
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"user_id":   user.ID,
	}).Info("provisioned user on first login")
	s.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeUserProvisioned, audit.EventStatusSuccess).
		WithTenant(tenantID).
		WithUser(user.ID))

	if s.onProvision != nil {
		if err := s.onProvision(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to finish provisioning: %w", err)
		}
	}
	return user, nil
}
