package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

func loginRequest(t *testing.T, f *fixture, tenantID int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	if tenantID != 0 {
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := tenant.WithTenant(r.Context(), &tenant.Tenant{ID: tenantID, OrgID: "acme", Status: tenant.StatusActive})
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		})
	}
	NewHandlers(f.svc).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Login(t *testing.T) {
	f := newFixture(t)
	f.users.add(&User{TenantID: 10, Email: "frozen@acme.test", PasswordHash: f.alice.PasswordHash, Status: UserStatusSuspended})

	tests := []struct {
		name       string
		tenantID   int64
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "success", tenantID: 10, body: `{"email":"alice@acme.test","password":"correct horse"}`, wantStatus: http.StatusOK},
		{name: "wrong password", tenantID: 10, body: `{"email":"alice@acme.test","password":"nope"}`, wantStatus: http.StatusUnauthorized, wantError: "Invalid credentials"},
		{name: "suspended", tenantID: 10, body: `{"email":"frozen@acme.test","password":"correct horse"}`, wantStatus: http.StatusForbidden, wantError: "account suspended"},
		{name: "missing password", tenantID: 10, body: `{"email":"alice@acme.test"}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", tenantID: 10, body: `{`, wantStatus: http.StatusBadRequest, wantError: "invalid request body"},
		{name: "no tenant", body: `{"email":"alice@acme.test","password":"correct horse"}`, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := loginRequest(t, f, tt.tenantID, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			}
			if tt.wantStatus == http.StatusOK {
				assert.NotEmpty(t, body["token"])
				assert.NotEmpty(t, body["refreshToken"])
				user := body["user"].(map[string]interface{})
				assert.Equal(t, "alice@acme.test", user["email"])
				assert.NotContains(t, user, "PasswordHash")
			}
		})
	}
}

func TestHandlers_LoginRateLimited(t *testing.T) {
	f := newFixture(t)
	blocked := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}

	router := mux.NewRouter()
	NewHandlers(f.svc).WithRateLimit(blocked).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
