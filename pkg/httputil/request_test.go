package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONOrError(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expectOK   bool
		expectCode int
	}{
		{
			name:     "valid JSON",
			body:     `{"permission": "role.read"}`,
			expectOK: true,
		},
		{
			name:       "invalid JSON",
			body:       `{invalid}`,
			expectOK:   false,
			expectCode: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			body:       ``,
			expectOK:   false,
			expectCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/rbac/check-permission", bytes.NewBufferString(tt.body))
			var dest map[string]string

			ok := ParseJSONOrError(w, req, &dest)

			assert.Equal(t, tt.expectOK, ok)
			if tt.expectOK {
				assert.Equal(t, "role.read", dest["permission"])
			} else {
				assert.Equal(t, tt.expectCode, w.Code)
			}
		})
	}
}

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name        string
		vars        map[string]string
		expectValue int64
		expectError bool
	}{
		{name: "valid", vars: map[string]string{"id": "42"}, expectValue: 42},
		{name: "max int64", vars: map[string]string{"id": "9223372036854775807"}, expectValue: 9223372036854775807},
		{name: "not a number", vars: map[string]string{"id": "abc"}, expectError: true},
		{name: "missing", vars: map[string]string{}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rbac/users/x/permissions", nil)
			req = mux.SetURLVars(req, tt.vars)

			val, err := ParsePathInt64(req, "id")

			if tt.expectError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectValue, val)
			}
		})
	}
}

func TestParsePathInt64OrError_Invalid(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v2/rbac/roles/abc", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "abc"})

	_, ok := ParsePathInt64OrError(w, req, "id")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/saml/7", nil)
	req = mux.SetURLVars(req, map[string]string{"provider": "saml"})

	val, err := ParsePathString(req, "provider")
	require.NoError(t, err)
	assert.Equal(t, "saml", val)

	_, err = ParsePathString(req, "orgId")
	assert.Error(t, err)
}

func TestAuthorizationCredentials(t *testing.T) {
	tests := []struct {
		name         string
		header       string
		expectOK     bool
		expectScheme string
		expectValue  string
	}{
		{name: "bearer", header: "Bearer abc.def", expectOK: true, expectScheme: "Bearer", expectValue: "abc.def"},
		{name: "api key scheme", header: "ApiKey gh_auth_1234", expectOK: true, expectScheme: "ApiKey", expectValue: "gh_auth_1234"},
		{name: "empty", header: "", expectOK: false},
		{name: "single token", header: "Bearer", expectOK: false},
		{name: "three tokens", header: "Bearer a b", expectOK: false},
		{name: "double space", header: "Bearer  abc", expectOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			scheme, value, ok := AuthorizationCredentials(req)

			assert.Equal(t, tt.expectOK, ok)
			assert.Equal(t, tt.expectScheme, scheme)
			assert.Equal(t, tt.expectValue, value)
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer token-value")
	assert.Equal(t, "token-value", BearerToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, BearerToken(req))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:51234"
	assert.Equal(t, "10.0.0.5", ClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.10")
	assert.Equal(t, "192.0.2.10", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(req))
}
