package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

type auth0Settings struct {
	Domain       string `json:"domain"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Auth0Provider implements the Auth0 authorization-code flow with a userinfo lookup
type Auth0Provider struct {
	settings    auth0Settings
	oauth2      oauth2.Config
	userInfoURL string
	client      *http.Client
}

func newAuth0Provider(cfg *IdentityProviderConfig, deps Deps) (*Auth0Provider, error) {
	var s auth0Settings
	if err := cfg.decodeSettings(&s); err != nil {
		return nil, &ProviderMisconfiguredError{Provider: ProviderTypeAuth0, Reason: err.Error()}
	}
	if err := requireSettings(ProviderTypeAuth0,
		[2]string{"domain", s.Domain},
		[2]string{"clientId", s.ClientID},
		[2]string{"clientSecret", s.ClientSecret},
	); err != nil {
		return nil, err
	}

	base := auth0BaseURL(s.Domain)
	return &Auth0Provider{
		settings: s,
		oauth2: oauth2.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"openid", "profile", "email"},
		},
		userInfoURL: base + "/userinfo",
		client:      deps.httpClient(),
	}, nil
}

// auth0BaseURL accepts a bare domain or a full origin
func auth0BaseURL(domain string) string {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), "/")
	if strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + domain
}

// Type returns the provider type
func (p *Auth0Provider) Type() ProviderType {
	return ProviderTypeAuth0
}

// AuthorizationURL returns the /authorize URL
func (p *Auth0Provider) AuthorizationURL(state string, callback CallbackURL) (string, error) {
	cfg := p.oauth2
	cfg.RedirectURL = callback.String()
	return cfg.AuthCodeURL(state), nil
}

// Exchange redeems the code and fetches /userinfo with the access token
func (p *Auth0Provider) Exchange(ctx context.Context, params CallbackParams, callback CallbackURL) (Claims, error) {
	if params.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrExchangeRejected)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	cfg := p.oauth2
	cfg.RedirectURL = callback.String()

	token, err := cfg.Exchange(ctx, params.Code)
	if err != nil {
		return nil, tokenEndpointError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: user info request failed with status %d: %s", ErrExchangeRejected, resp.StatusCode, string(body))
	}

	var claims Claims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return claims, nil
}

// MapClaims maps email and name (or nickname)
func (p *Auth0Provider) MapClaims(claims Claims, mapping UserMapping) (*Identity, error) {
	return mapClaims(claims, mapping, "sub",
		[]string{"email"},
		[]string{"name", "nickname"},
	)
}

func (p *Auth0Provider) secrets() []string {
	return []string{p.settings.ClientSecret}
}
