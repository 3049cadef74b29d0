package session

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// Middleware requires a valid bearer access token and attaches its claims.
// The expected tenant is the API-key tenant in context, else x-tenant-id when given.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := httputil.BearerToken(r)
			if token == "" {
				httputil.WriteUnauthorized(w, "authentication failed")
				return
			}

			tenantID, ok := expectedTenant(r)
			if !ok {
				httputil.WriteBadRequest(w, "invalid tenant id")
				return
			}

			claims, err := svc.Verify(r.Context(), token, tenantID)
			if err != nil {
				if errors.Is(err, ErrTenantMismatch) {
					httputil.WriteForbidden(w, "Access denied to tenant")
					return
				}
				httputil.WriteUnauthorized(w, "authentication failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// expectedTenant returns the tenant the token must be bound to, 0 for none
func expectedTenant(r *http.Request) (int64, bool) {
	if t, ok := tenant.FromContext(r.Context()); ok {
		return t.ID, true
	}
	header := r.Header.Get(tenant.TenantIDHeader)
	if header == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(header, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
