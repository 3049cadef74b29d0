package tenant

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// TenantIDHeader optionally names the tenant the caller expects to act on
const TenantIDHeader = "X-Tenant-ID"

// Middleware authenticates requests by API key for the given family and
// attaches the resolved tenant to the request context
func Middleware(resolver *Resolver, family Module) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ExtractAPIKey(r)
			if key == "" {
				httputil.WriteUnauthorized(w, "API key required")
				return
			}

			t, err := resolver.Resolve(r.Context(), family, key)
			if err != nil {
				WriteResolveError(w, r, err)
				return
			}

			if !MatchesHeader(t, r.Header.Get(TenantIDHeader)) {
				httputil.WriteForbidden(w, "Access denied to tenant")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), t)))
		})
	}
}

// MatchesHeader reports whether an x-tenant-id value names t. An empty value matches.
func MatchesHeader(t *Tenant, header string) bool {
	if header == "" {
		return true
	}
	if header == t.OrgID {
		return true
	}
	id, err := strconv.ParseInt(header, 10, 64)
	return err == nil && id == t.ID
}

// WriteResolveError writes the response for a Resolve failure. Client messages
// stay generic; the reason goes to metrics and audit.
func WriteResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTenantInactive):
		httputil.WriteForbidden(w, "authentication failed")
	case errors.Is(err, ErrMissingKey), errors.Is(err, ErrInvalidKeyFormat), errors.Is(err, ErrInvalidKey):
		httputil.WriteUnauthorized(w, "authentication failed")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("API key resolution failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "authentication service error")
	}
}
