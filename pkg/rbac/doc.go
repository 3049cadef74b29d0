// Package rbac provides tenant-scoped role-based access control.
//
// # Permissions
//
// A permission is a "resource.action" string such as "report.export".
// Roles hold ordered lists of patterns, and a pattern grants a permission when:
//
//	"report.export"  exact match
//	"*"              everything
//	"report.*"       any action on the report resource
//
// Patterns are data; there is no closed set of resources or actions.
//
// # Effective permissions
//
// A user's effective set is the union of the patterns of every assigned role.
// Roles are strictly additive: priority orders listings but never removes a
// grant made by another role.
//
// # Caching
//
// Resolver caches effective sets in an expirable LRU keyed by
// "{tenant}:{user}:{roleSetVersion}". Every mutation through Store bumps the
// tenant's version in the same transaction, so the next read computes a new key
// and stale entries simply expire. Concurrent misses for one key share a single
// store query.
//
//	resolver := rbac.NewResolver(rbac.NewSQLStore(db), rbac.ResolverConfig{CacheSize: 10000})
//	ok, err := resolver.HasPermission(ctx, claims, "role.create")
//
// # Middleware
//
// Middleware.Require passes when any listed permission is held; RequireAll
// needs every one. Both respond 401 without session claims and 403 with the
// required and missing permissions otherwise.
//
//	authz := rbac.NewMiddleware(resolver, auditLogger)
//	router.Handle("/reports", session.Middleware(svc)(authz.RequireAll("report.read", "report.export")(h)))
package rbac
