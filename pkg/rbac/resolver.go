package rbac

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// ResolverConfig configures the permission cache
type ResolverConfig struct {
	CacheSize int
	CacheTTL  time.Duration
	Metrics   *observability.Metrics
}

// Resolver computes effective permissions and answers permission queries.
//
// Effective sets are cached under "{tenant}:{user}:{version}". The version is
// read from the store on every query, so a mutation makes older entries
// unreachable and they age out of the LRU.
type Resolver struct {
	store   Store
	cache   *expirable.LRU[string, []string]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewResolver creates a resolver
func NewResolver(store Store, cfg ResolverConfig) *Resolver {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewTestMetrics()
	}
	return &Resolver{
		store:   store,
		cache:   expirable.NewLRU[string, []string](cfg.CacheSize, nil, cfg.CacheTTL),
		metrics: cfg.Metrics,
	}
}

// EffectivePermissions returns the distinct union of the user's role patterns
// in first-seen order. Roles only ever add permissions.
func (r *Resolver) EffectivePermissions(ctx context.Context, tenantID, userID int64) ([]string, error) {
	version, err := r.store.RoleSetVersion(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d:%d:%d", tenantID, userID, version)
	if perms, ok := r.cache.Get(key); ok {
		r.metrics.PermissionCacheHits.Inc()
		return slices.Clone(perms), nil
	}
	r.metrics.PermissionCacheMisses.Inc()

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		roles, err := r.store.GetUserRoles(ctx, tenantID, userID)
		if err != nil {
			return nil, err
		}
		var all []string
		for _, role := range roles {
			all = append(all, role.Permissions...)
		}
		perms := dedupe(all)
		r.cache.Add(key, perms)
		return perms, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	return slices.Clone(v.([]string)), nil
}

// HasPermission reports whether the token's user holds permission in the token's tenant
func (r *Resolver) HasPermission(ctx context.Context, claims *session.Claims, permission string) (bool, error) {
	if claims == nil {
		return false, nil
	}
	perms, err := r.EffectivePermissions(ctx, claims.TenantID, claims.UserID)
	if err != nil {
		r.metrics.PermissionChecksTotal.WithLabelValues("error").Inc()
		return false, err
	}
	allowed := MatchAny(perms, permission)
	r.metrics.PermissionChecksTotal.WithLabelValues(checkResult(allowed)).Inc()
	return allowed, nil
}

// HasPermissions answers each permission separately so callers can apply any-of or all-of
func (r *Resolver) HasPermissions(ctx context.Context, tenantID, userID int64, permissions []string) (map[string]bool, error) {
	perms, err := r.EffectivePermissions(ctx, tenantID, userID)
	if err != nil {
		r.metrics.PermissionChecksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	results := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		allowed := MatchAny(perms, p)
		results[p] = allowed
		r.metrics.PermissionChecksTotal.WithLabelValues(checkResult(allowed)).Inc()
	}
	return results, nil
}

func checkResult(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
