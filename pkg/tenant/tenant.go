// Package tenant resolves prefix-typed API keys to tenants.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// Module is the family an API key belongs to. The set is closed.
type Module string

const (
	ModuleAuth    Module = "auth"
	ModuleLogging Module = "logging"
)

var (
	// ErrUnknownModule is returned for module names outside the closed set
	ErrUnknownModule = errors.New("unknown module")

	ErrMissingKey       = errors.New("API key required")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrTenantInactive   = errors.New("tenant inactive")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrKeyExists        = errors.New("API key already exists for module")
)

// ParseModule parses a module name. "authentication" is accepted as a legacy alias of auth.
func ParseModule(name string) (Module, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "auth", "authentication":
		return ModuleAuth, nil
	case "logging":
		return ModuleLogging, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
}

// Prefix returns the key prefix for the module, e.g. "auth_"
func (m Module) Prefix() string {
	return string(m) + "_"
}

func (m Module) String() string {
	return string(m)
}

// Status is the tenant lifecycle state
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant is an isolated customer organization
type Tenant struct {
	ID        int64     `json:"id"`
	OrgID     string    `json:"orgId"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive reports whether the tenant may issue or verify tokens
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == StatusActive
}

// WithTenant attaches the resolved tenant to ctx
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	ctx = contextkeys.WithTenant(ctx, t)
	return contextkeys.WithTenantID(ctx, fmt.Sprintf("%d", t.ID))
}

// FromContext returns the tenant attached by Middleware, if any
func FromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(contextkeys.TenantKey).(*Tenant)
	return t, ok && t != nil
}
