package rbac

import (
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// Middleware gates handlers on permissions. It must run after session.Middleware.
type Middleware struct {
	resolver *Resolver
	audit    audit.Logger
}

// NewMiddleware creates permission middleware
func NewMiddleware(resolver *Resolver, auditLogger audit.Logger) *Middleware {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	return &Middleware{resolver: resolver, audit: auditLogger}
}

// InsufficientPermissionsResponse is the 403 body
type InsufficientPermissionsResponse struct {
	Error    string   `json:"error"`
	Required []string `json:"required"`
	Missing  []string `json:"missing"`
}

// Require passes when the user holds any of permissions
func (m *Middleware) Require(permissions ...string) func(http.Handler) http.Handler {
	return m.require(false, permissions)
}

// RequireAll passes only when the user holds every permission
func (m *Middleware) RequireAll(permissions ...string) func(http.Handler) http.Handler {
	return m.require(true, permissions)
}

func (m *Middleware) require(all bool, permissions []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := session.ClaimsFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			results, err := m.resolver.HasPermissions(r.Context(), claims.TenantID, claims.UserID, permissions)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("permission check failed")
				httputil.WriteInternalError(w)
				return
			}

			if missing, allowed := evaluate(results, permissions, all); !allowed {
				m.audit.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied).
					WithTenant(claims.TenantID).
					WithUser(claims.UserID).
					WithRequest(r).
					WithMeta("required", permissions).
					WithMeta("missing", missing))
				httputil.WriteJSON(w, http.StatusForbidden, InsufficientPermissionsResponse{
					Error:    "Insufficient permissions",
					Required: permissions,
					Missing:  missing,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// evaluate returns the missing permissions and whether the request passes
func evaluate(results map[string]bool, permissions []string, all bool) ([]string, bool) {
	missing := []string{}
	for _, p := range permissions {
		if !results[p] {
			missing = append(missing, p)
		}
	}
	if all {
		return missing, len(missing) == 0
	}
	return missing, len(permissions) == 0 || len(missing) < len(permissions)
}
