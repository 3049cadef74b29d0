package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Resolver maps API keys to active tenants
type Resolver struct {
	store   Store
	audit   audit.Logger
	metrics *observability.Metrics

	// loggingFallback lets auth keys authenticate the logging family
	loggingFallback bool
}

// NewResolver creates a resolver. auditLogger and metrics may be nil.
func NewResolver(store Store, auditLogger audit.Logger, metrics *observability.Metrics, loggingFallback bool) *Resolver {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	return &Resolver{
		store:           store,
		audit:           auditLogger,
		metrics:         metrics,
		loggingFallback: loggingFallback,
	}
}

// Resolve returns the active tenant owning key for the requested family
func (r *Resolver) Resolve(ctx context.Context, family Module, key string) (*Tenant, error) {
	t, err := r.resolve(ctx, family, key)
	r.record(ctx, family, t, err)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Resolver) resolve(ctx context.Context, family Module, key string) (*Tenant, error) {
	if key == "" {
		return nil, ErrMissingKey
	}

	keyModule, err := KeyModule(key)
	if err != nil {
		return nil, err
	}

	if !r.accepts(family, keyModule) {
		return nil, ErrInvalidKeyFormat
	}

	t, err := r.store.GetByAPIKey(ctx, keyModule, HashKey(key))
	if err != nil {
		if errors.Is(err, ErrInvalidKey) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	if !t.IsActive() {
		return t, ErrTenantInactive
	}
	return t, nil
}

// accepts reports whether a key of keyModule may authenticate family
func (r *Resolver) accepts(family, keyModule Module) bool {
	if family == keyModule {
		return true
	}
	return family == ModuleLogging && keyModule == ModuleAuth && r.loggingFallback
}

func (r *Resolver) record(ctx context.Context, family Module, t *Tenant, err error) {
	outcome := outcomeFor(err)
	r.metrics.APIKeyResolutionsTotal.WithLabelValues(string(family), outcome).Inc()

	eventType, status := audit.EventTypeAuthAPIKeyResolved, audit.EventStatusSuccess
	if err != nil {
		eventType, status = audit.EventTypeAuthAPIKeyRejected, audit.EventStatusFailure
	}

	event := audit.NewEvent(ctx, eventType, status).
		WithMeta("module", string(family)).
		WithMeta("outcome", outcome)
	if t != nil {
		event.WithTenant(t.ID)
	}
	r.audit.Log(ctx, event)
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, ErrMissingKey):
		return "missing"
	case errors.Is(err, ErrInvalidKeyFormat):
		return "invalid_format"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrTenantInactive):
		return "inactive"
	default:
		return "error"
	}
}

// IssueAPIKey generates and stores a key for the tenant identified by orgID.
// The plaintext is returned once and cannot be recovered later.
func (r *Resolver) IssueAPIKey(ctx context.Context, orgID string, module Module) (string, error) {
	t, err := r.store.GetByOrgID(ctx, orgID)
	if err != nil {
		return "", err
	}

	plaintext, hash, err := GenerateKey(module)
	if err != nil {
		return "", err
	}

	if err := r.store.CreateAPIKey(ctx, t.ID, module, hash); err != nil {
		return "", err
	}

	r.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAdminAPIKeyCreate, audit.EventStatusSuccess).
		WithTenant(t.ID).
		WithMeta("module", string(module)))

	return plaintext, nil
}
