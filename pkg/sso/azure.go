package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const defaultAzureAuthority = "https://login.microsoftonline.com"

type azureADSettings struct {
	TenantID     string `json:"tenantId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`

	// Authority overrides the login host, e.g. for national clouds
	Authority string `json:"authority,omitempty"`
}

// AzureADProvider signs users in with Microsoft Entra ID (Azure AD) and
// verifies the returned id_token against the directory's signing keys
type AzureADProvider struct {
	settings azureADSettings
	oauth2   oauth2.Config
	issuer   string
	jwksURL  string
	client   *http.Client
}

func newAzureADProvider(cfg *IdentityProviderConfig, deps Deps) (*AzureADProvider, error) {
	var s azureADSettings
	if err := cfg.decodeSettings(&s); err != nil {
		return nil, &ProviderMisconfiguredError{Provider: ProviderTypeAzureAD, Reason: err.Error()}
	}
	if err := requireSettings(ProviderTypeAzureAD,
		[2]string{"tenantId", s.TenantID},
		[2]string{"clientId", s.ClientID},
		[2]string{"clientSecret", s.ClientSecret},
	); err != nil {
		return nil, err
	}

	authority := strings.TrimSuffix(s.Authority, "/")
	if authority == "" {
		authority = defaultAzureAuthority
	}
	base := authority + "/" + s.TenantID

	return &AzureADProvider{
		settings: s,
		oauth2: oauth2.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/v2.0/authorize",
				TokenURL:  base + "/oauth2/v2.0/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{oidc.ScopeOpenID, "profile", "email"},
		},
		issuer:  base + "/v2.0",
		jwksURL: base + "/discovery/v2.0/keys",
		client:  deps.httpClient(),
	}, nil
}

// Type returns the provider type
func (p *AzureADProvider) Type() ProviderType {
	return ProviderTypeAzureAD
}

// AuthorizationURL returns the v2.0 authorize endpoint URL
func (p *AzureADProvider) AuthorizationURL(state string, callback CallbackURL) (string, error) {
	cfg := p.oauth2
	cfg.RedirectURL = callback.String()
	return cfg.AuthCodeURL(state), nil
}

// Exchange redeems the code and verifies the id_token
func (p *AzureADProvider) Exchange(ctx context.Context, params CallbackParams, callback CallbackURL) (Claims, error) {
	if params.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrExchangeRejected)
	}

	ctx = oidc.ClientContext(ctx, p.client)
	cfg := p.oauth2
	cfg.RedirectURL = callback.String()

	token, err := cfg.Exchange(ctx, params.Code)
	if err != nil {
		return nil, tokenEndpointError(err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: missing id_token in response", ErrExchangeRejected)
	}

	verifier := oidc.NewVerifier(p.issuer, oidc.NewRemoteKeySet(ctx, p.jwksURL), &oidc.Config{
		ClientID: p.settings.ClientID,
	})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify id_token: %v", ErrExchangeRejected, err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrExchangeRejected, err)
	}
	return claims, nil
}

// MapClaims maps preferred_username (or email) and name
func (p *AzureADProvider) MapClaims(claims Claims, mapping UserMapping) (*Identity, error) {
	identity, err := mapClaims(claims, mapping, "oid",
		[]string{"preferred_username", "email", "upn"},
		[]string{"name"},
	)
	if err != nil {
		return nil, err
	}
	if identity.Subject == "" {
		identity.Subject = claims.String("sub")
	}
	return identity, nil
}

func (p *AzureADProvider) secrets() []string {
	return []string{p.settings.ClientSecret}
}

// tokenEndpointError marks OAuth error responses as rejections and leaves
// transport failures as they are
func tokenEndpointError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if code == "" && re.Response != nil {
			code = fmt.Sprintf("status %d", re.Response.StatusCode)
		}
		return fmt.Errorf("%w: token endpoint returned %s", ErrExchangeRejected, code)
	}
	return fmt.Errorf("token exchange failed: %w", err)
}
