package sso

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

const defaultLoginURL = "/login"

type localSettings struct {
	LoginURL string `json:"loginUrl,omitempty"`
}

// LocalProvider routes the flow through the platform's own login page. The
// page posts credentials to /auth/login and returns the access token as the code.
type LocalProvider struct {
	loginURL string
	codes    LoginCodeVerifier
}

func newLocalProvider(cfg *IdentityProviderConfig, deps Deps) (*LocalProvider, error) {
	var s localSettings
	if err := cfg.decodeSettings(&s); err != nil {
		return nil, &ProviderMisconfiguredError{Provider: ProviderTypeLocal, Reason: err.Error()}
	}
	if deps.LoginCodes == nil {
		return nil, &ProviderMisconfiguredError{Provider: ProviderTypeLocal, Reason: "login code verifier unavailable"}
	}
	loginURL := s.LoginURL
	if loginURL == "" {
		loginURL = defaultLoginURL
	}
	return &LocalProvider{loginURL: loginURL, codes: deps.LoginCodes}, nil
}

// Type returns the provider type
func (p *LocalProvider) Type() ProviderType {
	return ProviderTypeLocal
}

// AuthorizationURL returns the login page carrying orgId, state and the callback
func (p *LocalProvider) AuthorizationURL(state string, callback CallbackURL) (string, error) {
	u, err := url.Parse(p.loginURL)
	if err != nil {
		return "", fmt.Errorf("invalid login URL: %w", err)
	}
	q := u.Query()
	q.Set("orgId", callback.orgID)
	q.Set("state", state)
	q.Set("callback", callback.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange verifies the login code and checks it belongs to the flow's tenant
func (p *LocalProvider) Exchange(ctx context.Context, params CallbackParams, callback CallbackURL) (Claims, error) {
	if params.Code == "" {
		return nil, fmt.Errorf("%w: missing login code", ErrExchangeRejected)
	}
	claims, err := p.codes.VerifyLoginCode(ctx, params.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid login code: %v", ErrExchangeRejected, err)
	}
	if claims.TenantID != params.TenantID {
		return nil, fmt.Errorf("%w: login code issued for another tenant", ErrExchangeRejected)
	}
	return Claims{
		"sub":   strconv.FormatInt(claims.UserID, 10),
		"email": claims.Email,
	}, nil
}

// MapClaims maps the session email
func (p *LocalProvider) MapClaims(claims Claims, _ UserMapping) (*Identity, error) {
	return mapClaims(claims, UserMapping{}, "sub", []string{"email"}, []string{"name"})
}
