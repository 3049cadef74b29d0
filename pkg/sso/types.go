package sso

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProviderType represents the SSO provider type. The set is closed.
type ProviderType string

const (
	ProviderTypeAzureAD ProviderType = "azure-ad"
	ProviderTypeAuth0   ProviderType = "auth0"
	ProviderTypeSAML    ProviderType = "saml"
	ProviderTypeLocal   ProviderType = "local"
)

// ErrUnknownProviderType is returned for provider names outside the closed set
var ErrUnknownProviderType = errors.New("unknown provider type")

// ParseProviderType parses a provider name as it appears in URLs and config
func ParseProviderType(name string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "azure-ad", "azuread", "azure":
		return ProviderTypeAzureAD, nil
	case "auth0":
		return ProviderTypeAuth0, nil
	case "saml":
		return ProviderTypeSAML, nil
	case "local":
		return ProviderTypeLocal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProviderType, name)
	}
}

// UserMapping names the claims holding the user's email and display name.
// Empty fields fall back to the provider's defaults.
type UserMapping struct {
	EmailField string `json:"emailField,omitempty" yaml:"emailField"`
	NameField  string `json:"nameField,omitempty" yaml:"nameField"`
}

// IdentityProviderConfig is a tenant's configuration for one provider.
// Settings holds the provider-specific JSON blob.
type IdentityProviderConfig struct {
	ID          int64           `json:"id"`
	TenantID    int64           `json:"tenantId"`
	Type        ProviderType    `json:"type"`
	Priority    int             `json:"priority"`
	Enabled     bool            `json:"enabled"`
	Settings    json.RawMessage `json:"config"`
	UserMapping UserMapping     `json:"userMapping"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// secretSettings are removed from configs before they leave the server
var secretSettings = []string{"clientSecret", "privateKey"}

// Sanitized returns a copy of the config with secret settings removed
func (c *IdentityProviderConfig) Sanitized() *IdentityProviderConfig {
	out := *c
	var settings map[string]interface{}
	if err := json.Unmarshal(c.Settings, &settings); err != nil || settings == nil {
		out.Settings = json.RawMessage(`{}`)
		return &out
	}
	for _, key := range secretSettings {
		delete(settings, key)
	}
	out.Settings, _ = json.Marshal(settings)
	return &out
}

// decodeSettings unmarshals the provider blob into dest. An empty blob is treated as {}.
func (c *IdentityProviderConfig) decodeSettings(dest interface{}) error {
	if len(c.Settings) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Settings, dest); err != nil {
		return fmt.Errorf("invalid %s config: %w", c.Type, err)
	}
	return nil
}

// Claims are the raw attributes returned by a provider
type Claims map[string]interface{}

// String returns a string claim, or "" when absent or not a string
func (c Claims) String(key string) string {
	if key == "" {
		return ""
	}
	switch v := c[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case []interface{}:
		// Multi-valued SAML attributes keep the first value
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// first returns the first non-empty claim among keys
func (c Claims) first(keys ...string) string {
	for _, key := range keys {
		if v := c.String(key); v != "" {
			return v
		}
	}
	return ""
}

// Identity is the provider-neutral result of claim mapping
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// ErrMissingEmail is returned when no mapped claim carries an email
var ErrMissingEmail = errors.New("identity has no email claim")

// mapClaims applies mapping, falling back to the provider default claim names
func mapClaims(claims Claims, mapping UserMapping, subjectKey string, emailDefaults, nameDefaults []string) (*Identity, error) {
	emailKeys := emailDefaults
	if mapping.EmailField != "" {
		emailKeys = []string{mapping.EmailField}
	}
	nameKeys := nameDefaults
	if mapping.NameField != "" {
		nameKeys = []string{mapping.NameField}
	}

	identity := &Identity{
		Subject: claims.String(subjectKey),
		Email:   claims.first(emailKeys...),
		Name:    claims.first(nameKeys...),
	}
	if identity.Email == "" {
		return nil, ErrMissingEmail
	}
	if identity.Name == "" {
		identity.Name = identity.Email
	}
	return identity, nil
}

// CallbackParams carries what the provider sent back to the callback
type CallbackParams struct {
	TenantID     int64
	Code         string
	SAMLResponse string
}
