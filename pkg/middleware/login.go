package middleware

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// LoginRateLimit throttles credential attempts per tenant and client IP.
// When primary fails, for instance because Redis is unreachable, the
// in-process fallback decides instead so the limit never disappears.
type LoginRateLimit struct {
	primary  Limiter
	fallback Limiter
	metrics  *observability.Metrics
}

// NewLoginRateLimit creates the middleware. primary may be nil, in which
// case only the in-process limiter is used.
func NewLoginRateLimit(primary Limiter, config *RateLimitConfig, metrics *observability.Metrics) *LoginRateLimit {
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	return &LoginRateLimit{
		primary:  primary,
		fallback: NewLocalRateLimiter(config),
		metrics:  metrics,
	}
}

// Handler wraps next with the login limit
func (m *LoginRateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := loginKey(r)

		allowed, retryAfter, err := m.allow(r, key)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Error("login rate limit check failed")
			httputil.WriteInternalError(w)
			return
		}
		if !allowed {
			m.metrics.LoginRateLimitedTotal.Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(retryAfter.Seconds()))))
			httputil.WriteTooManyRequests(w, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *LoginRateLimit) allow(r *http.Request, key string) (bool, time.Duration, error) {
	if m.primary != nil {
		allowed, retryAfter, err := m.primary.Allow(r.Context(), key)
		if err == nil {
			return allowed, retryAfter, nil
		}
		observability.FromContext(r.Context()).WithError(err).Warn("distributed rate limit unavailable, using local limiter")
	}
	return m.fallback.Allow(r.Context(), key)
}

// loginKey is "{tenantID}:{clientIP}", with tenant 0 before key resolution
func loginKey(r *http.Request) string {
	var tenantID int64
	if t, ok := tenant.FromContext(r.Context()); ok {
		tenantID = t.ID
	}
	return fmt.Sprintf("login:%d:%s", tenantID, httputil.ClientIP(r))
}
