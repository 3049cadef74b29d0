package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.TokenVerifyTotal.WithLabelValues("expired").Inc()
	m.PermissionCacheHits.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TokenVerifyTotal.WithLabelValues("expired")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermissionCacheHits))

	// Registering twice on the same registry must panic
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewTestMetrics()

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/rbac/users/{id}/roles", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}).Methods(http.MethodPost)

	for _, id := range []string{"1", "2", "3"} {
		req := httptest.NewRequest(http.MethodPost, "/rbac/users/"+id+"/roles", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/rbac/users/{id}/roles", "201"))
	assert.Equal(t, float64(3), count)
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.LogoutsTotal.Inc()

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rec := httptest.NewRecorder()
	serveMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "gatehouse_logouts_total 1"))
}
