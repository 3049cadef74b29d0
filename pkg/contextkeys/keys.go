// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/gatehouse/pkg/contextkeys"
//	ctx = contextkeys.WithTenant(ctx, t)
//	t, _ := ctx.Value(contextkeys.TenantKey).(*tenant.Tenant)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantKey contains *tenant.Tenant
	// Set by: tenant.Middleware (pkg/tenant/middleware.go)
	// Required by: login, RBAC endpoints, session verification
	// Type: *tenant.Tenant
	TenantKey Key = "tenant"

	// ClaimsKey contains *session.Claims
	// Set by: session.Middleware (pkg/session/middleware.go)
	// Required by: RBAC middleware, logout, verify
	// Type: *session.Claims
	ClaimsKey Key = "session_claims"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: session.Middleware after token verification
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"

	// TenantIDKey contains tenant ID string
	// Set by: tenant.Middleware and session.Middleware
	// Used by: Logger
	// Type: string
	TenantIDKey Key = "tenant_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithTenant adds the resolved tenant to the context
func WithTenant(ctx context.Context, t interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, t)
}

// WithClaims adds verified session claims to the context
func WithClaims(ctx context.Context, claims interface{}) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithTenantID adds tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetTenantID retrieves tenant ID from context
func GetTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}
