package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/session"
)

// Provider is one identity provider's half of the authorization-code flow.
// The state machine around it lives in Gateway.
type Provider interface {
	// Type returns the provider type
	Type() ProviderType

	// AuthorizationURL returns where to send the browser to authenticate
	AuthorizationURL(state string, callback CallbackURL) (string, error)

	// Exchange trades the callback parameters for the provider's claims
	Exchange(ctx context.Context, params CallbackParams, callback CallbackURL) (Claims, error)

	// MapClaims extracts the local identity from provider claims
	MapClaims(claims Claims, mapping UserMapping) (*Identity, error)
}

// ErrExchangeRejected marks well-formed rejections by the provider, such as
// an invalid grant or a bad signature. Other exchange errors are treated as
// unexpected.
var ErrExchangeRejected = errors.New("provider rejected the exchange")

// ErrNoProvider is returned when a tenant has no enabled provider and there is no platform default
var ErrNoProvider = errors.New("no identity provider configured")

// ProviderMisconfiguredError names the required settings a provider config lacks
type ProviderMisconfiguredError struct {
	Provider ProviderType
	Missing  []string
	Reason   string
}

func (e *ProviderMisconfiguredError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s provider misconfigured: missing %s", e.Provider, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s provider misconfigured: %s", e.Provider, e.Reason)
}

// LoginCodeVerifier verifies the session token the local login page hands back as its code
type LoginCodeVerifier interface {
	VerifyLoginCode(ctx context.Context, code string) (*session.Claims, error)
}

// Deps are the collaborators providers need
type Deps struct {
	// HTTPClient is used for token, userinfo and JWKS calls
	HTTPClient *http.Client

	// BaseURL is the public origin, used as the SAML service provider issuer
	BaseURL string

	// LoginCodes verifies local login codes
	LoginCodes LoginCodeVerifier
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// NewProvider builds the provider implementation for cfg.Type. Missing
// required settings yield a *ProviderMisconfiguredError.
func NewProvider(cfg *IdentityProviderConfig, deps Deps) (Provider, error) {
	switch cfg.Type {
	case ProviderTypeAzureAD:
		return newAzureADProvider(cfg, deps)
	case ProviderTypeAuth0:
		return newAuth0Provider(cfg, deps)
	case ProviderTypeSAML:
		return newSAMLProvider(cfg, deps)
	case ProviderTypeLocal:
		return newLocalProvider(cfg, deps)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProviderType, cfg.Type)
	}
}

// requireSettings returns a misconfiguration error listing the empty fields, in order
func requireSettings(provider ProviderType, fields ...[2]string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return &ProviderMisconfiguredError{Provider: provider, Missing: missing}
	}
	return nil
}

// secretsOf lists the settings values scrubbed from error details
func secretsOf(p Provider) []string {
	if s, ok := p.(interface{ secrets() []string }); ok {
		return s.secrets()
	}
	return nil
}
