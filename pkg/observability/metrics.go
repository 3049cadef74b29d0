package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// API key resolution
	APIKeyResolutionsTotal *prometheus.CounterVec

	// Session tokens
	TokensIssuedTotal   *prometheus.CounterVec
	TokenVerifyTotal    *prometheus.CounterVec
	TokenRefreshesTotal *prometheus.CounterVec
	LogoutsTotal        prometheus.Counter

	// Permission resolution
	PermissionChecksTotal   *prometheus.CounterVec
	PermissionCacheHits     prometheus.Counter
	PermissionCacheMisses   prometheus.Counter
	RoleSetVersionBumpTotal prometheus.Counter

	// SSO
	SSOFlowsTotal         *prometheus.CounterVec
	SSOExchangeDuration   *prometheus.HistogramVec
	LoginRateLimitedTotal prometheus.Counter

	// Audit sink
	AuditEventsDroppedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		APIKeyResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_api_key_resolutions_total",
				Help: "API key resolutions by module family and outcome",
			},
			[]string{"module", "outcome"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_tokens_issued_total",
				Help: "Session tokens issued by origin",
			},
			[]string{"origin"},
		),
		TokenVerifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_verifications_total",
				Help: "Session token verifications by outcome",
			},
			[]string{"outcome"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_refreshes_total",
				Help: "Refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		LogoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_logouts_total",
				Help: "Refresh chains revoked through logout",
			},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_permission_checks_total",
				Help: "Point permission checks by result",
			},
			[]string{"result"},
		),
		PermissionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_permission_cache_hits_total",
				Help: "Effective permission cache hits",
			},
		),
		PermissionCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_permission_cache_misses_total",
				Help: "Effective permission cache misses",
			},
		),
		RoleSetVersionBumpTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_role_set_version_bumps_total",
				Help: "Role or assignment mutations that invalidated cached permissions",
			},
		),
		SSOFlowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_sso_flows_total",
				Help: "SSO flows reaching a terminal or start state",
			},
			[]string{"provider", "state", "code"},
		),
		SSOExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_sso_exchange_duration_seconds",
				Help:    "Authorization code exchange duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		LoginRateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_login_rate_limited_total",
				Help: "Login attempts rejected by the rate limiter",
			},
		),
		AuditEventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_audit_events_dropped_total",
				Help: "Audit events dropped because the sink buffer was full",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.APIKeyResolutionsTotal,
		m.TokensIssuedTotal,
		m.TokenVerifyTotal,
		m.TokenRefreshesTotal,
		m.LogoutsTotal,
		m.PermissionChecksTotal,
		m.PermissionCacheHits,
		m.PermissionCacheMisses,
		m.RoleSetVersionBumpTotal,
		m.SSOFlowsTotal,
		m.SSOExchangeDuration,
		m.LoginRateLimitedTotal,
		m.AuditEventsDroppedTotal,
	)

	return m
}

// NewTestMetrics returns metrics registered against a throwaway registry
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
