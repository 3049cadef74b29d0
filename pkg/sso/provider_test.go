package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/session"
)

func settingsJSON(t *testing.T, v map[string]interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func testCallback(t *testing.T, provider ProviderType) CallbackURL {
	t.Helper()
	r, err := ParseReturnURL("/dashboard", nil)
	require.NoError(t, err)
	return NewCallbackURL("https://auth.example.com", provider, "acme", r)
}

// redirectURIOf returns the decoded redirect_uri of an authorization URL
func redirectURIOf(t *testing.T, authURL string) *url.URL {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	redirect, err := url.Parse(u.Query().Get("redirect_uri"))
	require.NoError(t, err)
	return redirect
}

func TestNewProvider_Misconfigured(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *IdentityProviderConfig
		deps     Deps
		missing  []string
		reason   bool
		provider ProviderType
	}{
		{
			name:     "azure without secret",
			cfg:      &IdentityProviderConfig{Type: ProviderTypeAzureAD, Settings: json.RawMessage(`{"tenantId":"t"}`)},
			missing:  []string{"clientId", "clientSecret"},
			provider: ProviderTypeAzureAD,
		},
		{
			name:     "auth0 empty",
			cfg:      &IdentityProviderConfig{Type: ProviderTypeAuth0},
			missing:  []string{"domain", "clientId", "clientSecret"},
			provider: ProviderTypeAuth0,
		},
		{
			name:     "saml without certificate",
			cfg:      &IdentityProviderConfig{Type: ProviderTypeSAML, Settings: json.RawMessage(`{"entityId":"e","ssoUrl":"https://idp/sso"}`)},
			missing:  []string{"certificate"},
			provider: ProviderTypeSAML,
		},
		{
			name:     "saml with a bad certificate",
			cfg:      &IdentityProviderConfig{Type: ProviderTypeSAML, Settings: json.RawMessage(`{"entityId":"e","ssoUrl":"https://idp/sso","certificate":"bm90IGEgY2VydA=="}`)},
			reason:   true,
			provider: ProviderTypeSAML,
		},
		{
			name:     "local without verifier",
			cfg:      &IdentityProviderConfig{Type: ProviderTypeLocal},
			reason:   true,
			provider: ProviderTypeLocal,
		},
		{
			name:     "malformed settings",
			cfg:      &IdentityProviderConfig{Type: ProviderTypeAuth0, Settings: json.RawMessage(`[1,2]`)},
			reason:   true,
			provider: ProviderTypeAuth0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg, tt.deps)
			var misconfigured *ProviderMisconfiguredError
			require.ErrorAs(t, err, &misconfigured)
			assert.Equal(t, tt.provider, misconfigured.Provider)
			assert.Equal(t, tt.missing, misconfigured.Missing)
			if tt.reason {
				assert.NotEmpty(t, misconfigured.Reason)
			}
		})
	}

	_, err := NewProvider(&IdentityProviderConfig{Type: "okta"}, Deps{})
	assert.ErrorIs(t, err, ErrUnknownProviderType)
}

// testIDP is an Azure AD style token and JWKS endpoint
type testIDP struct {
	server   *httptest.Server
	key      *rsa.PrivateKey
	tenantID string
	clientID string
	claims   jwt.MapClaims
}

func newTestIDP(t *testing.T) *testIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &testIDP{key: key, tenantID: "dir-1", clientID: "client-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/dir-1/oauth2/v2.0/token", idp.token)
	mux.HandleFunc("/dir-1/discovery/v2.0/keys", idp.keys)
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)

	idp.claims = jwt.MapClaims{
		"iss":                idp.issuer(),
		"aud":                idp.clientID,
		"sub":                "subject-1",
		"oid":                "object-1",
		"preferred_username": "alice@example.com",
		"name":               "Alice",
	}
	return idp
}

func (idp *testIDP) issuer() string {
	return idp.server.URL + "/" + idp.tenantID + "/v2.0"
}

func (idp *testIDP) config(t *testing.T) *IdentityProviderConfig {
	return &IdentityProviderConfig{
		Type: ProviderTypeAzureAD,
		Settings: settingsJSON(t, map[string]interface{}{
			"tenantId":     idp.tenantID,
			"clientId":     idp.clientID,
			"clientSecret": "azure-secret",
			"authority":    idp.server.URL,
		}),
	}
}

func (idp *testIDP) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("client_secret") != "azure-secret" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
		return
	}
	if r.PostForm.Get("code") != "good-code" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
		return
	}

	claims := jwt.MapClaims{"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix()}
	for k, v := range idp.claims {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "key-1"
	idToken, err := token.SignedString(idp.key)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": "access-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idToken,
	})
}

func (idp *testIDP) keys(w http.ResponseWriter, r *http.Request) {
	pub := idp.key.PublicKey
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "key-1",
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func TestAzureADProvider_AuthorizationURL(t *testing.T) {
	p, err := NewProvider(&IdentityProviderConfig{
		Type:     ProviderTypeAzureAD,
		Settings: json.RawMessage(`{"tenantId":"dir-1","clientId":"client-1","clientSecret":"s"}`),
	}, Deps{})
	require.NoError(t, err)

	authURL, err := p.AuthorizationURL("state-1", testCallback(t, ProviderTypeAzureAD))
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "login.microsoftonline.com", u.Host)
	assert.Equal(t, "/dir-1/oauth2/v2.0/authorize", u.Path)
	assert.Equal(t, "state-1", u.Query().Get("state"))
	assert.Equal(t, "client-1", u.Query().Get("client_id"))
	assert.Contains(t, u.Query().Get("scope"), "openid")
	assert.NotContains(t, authURL, "client_secret")

	redirect := redirectURIOf(t, authURL)
	assert.Equal(t, "/api/auth/azure-ad/acme/callback", redirect.Path)
	assert.Equal(t, "/dashboard", redirect.Query().Get("returnUrl"))
}

func TestAzureADProvider_Exchange(t *testing.T) {
	idp := newTestIDP(t)
	p, err := NewProvider(idp.config(t), Deps{HTTPClient: idp.server.Client()})
	require.NoError(t, err)
	callback := testCallback(t, ProviderTypeAzureAD)

	claims, err := p.Exchange(context.Background(), CallbackParams{Code: "good-code"}, callback)
	require.NoError(t, err)

	identity, err := p.MapClaims(claims, UserMapping{})
	require.NoError(t, err)
	assert.Equal(t, &Identity{Subject: "object-1", Email: "alice@example.com", Name: "Alice"}, identity)

	t.Run("rejected code", func(t *testing.T) {
		_, err := p.Exchange(context.Background(), CallbackParams{Code: "bad-code"}, callback)
		assert.ErrorIs(t, err, ErrExchangeRejected)
		assert.Contains(t, err.Error(), "invalid_grant")
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := p.Exchange(context.Background(), CallbackParams{}, callback)
		assert.ErrorIs(t, err, ErrExchangeRejected)
	})

	t.Run("wrong audience", func(t *testing.T) {
		idp.claims["aud"] = "someone-else"
		defer func() { idp.claims["aud"] = idp.clientID }()
		_, err := p.Exchange(context.Background(), CallbackParams{Code: "good-code"}, callback)
		assert.ErrorIs(t, err, ErrExchangeRejected)
	})

	t.Run("unreachable", func(t *testing.T) {
		cfg := idp.config(t)
		cfg.Settings = settingsJSON(t, map[string]interface{}{
			"tenantId": "dir-1", "clientId": "client-1", "clientSecret": "azure-secret",
			"authority": "http://127.0.0.1:1",
		})
		p, err := NewProvider(cfg, Deps{})
		require.NoError(t, err)
		_, err = p.Exchange(context.Background(), CallbackParams{Code: "good-code"}, callback)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrExchangeRejected)
	})
}

func TestAzureADProvider_MapClaimsFallsBackToSub(t *testing.T) {
	p := &AzureADProvider{}
	identity, err := p.MapClaims(Claims{"sub": "s-1", "email": "bob@example.com"}, UserMapping{})
	require.NoError(t, err)
	assert.Equal(t, "s-1", identity.Subject)
	assert.Equal(t, "bob@example.com", identity.Email)
	assert.Equal(t, "bob@example.com", identity.Name)
}

func newTestAuth0(t *testing.T, userInfoStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Write([]byte(`{"access_token":"auth0-access","token_type":"Bearer","expires_in":60}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer auth0-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if userInfoStatus != http.StatusOK {
			w.WriteHeader(userInfoStatus)
			w.Write([]byte("nope"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"auth0|1","email":"carol@example.com","nickname":"carol"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestAuth0Provider(t *testing.T) {
	server := newTestAuth0(t, http.StatusOK)
	cfg := &IdentityProviderConfig{
		Type: ProviderTypeAuth0,
		Settings: settingsJSON(t, map[string]interface{}{
			"domain": server.URL, "clientId": "auth0-client", "clientSecret": "auth0-secret",
		}),
	}
	p, err := NewProvider(cfg, Deps{HTTPClient: server.Client()})
	require.NoError(t, err)
	callback := testCallback(t, ProviderTypeAuth0)

	authURL, err := p.AuthorizationURL("state-1", callback)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL, server.URL+"/authorize?"))
	assert.Equal(t, "/dashboard", redirectURIOf(t, authURL).Query().Get("returnUrl"))

	claims, err := p.Exchange(context.Background(), CallbackParams{Code: "good-code"}, callback)
	require.NoError(t, err)
	identity, err := p.MapClaims(claims, UserMapping{})
	require.NoError(t, err)
	assert.Equal(t, &Identity{Subject: "auth0|1", Email: "carol@example.com", Name: "carol"}, identity)

	_, err = p.Exchange(context.Background(), CallbackParams{Code: "bad-code"}, callback)
	assert.ErrorIs(t, err, ErrExchangeRejected)
}

func TestAuth0Provider_UserInfoFailure(t *testing.T) {
	server := newTestAuth0(t, http.StatusTooManyRequests)
	p, err := NewProvider(&IdentityProviderConfig{
		Type: ProviderTypeAuth0,
		Settings: settingsJSON(t, map[string]interface{}{
			"domain": server.URL, "clientId": "c", "clientSecret": "s",
		}),
	}, Deps{})
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), CallbackParams{Code: "good-code"}, testCallback(t, ProviderTypeAuth0))
	assert.ErrorIs(t, err, ErrExchangeRejected)
	assert.Contains(t, err.Error(), "429")
}

func TestAuth0BaseURL(t *testing.T) {
	assert.Equal(t, "https://acme.auth0.com", auth0BaseURL("acme.auth0.com"))
	assert.Equal(t, "https://acme.auth0.com", auth0BaseURL(" acme.auth0.com/ "))
	assert.Equal(t, "http://localhost:9000", auth0BaseURL("http://localhost:9000"))
}

func TestLocalProvider(t *testing.T) {
	sessions, err := session.NewService(session.Config{Secret: strings.Repeat("k", 32)}, session.NewMemoryRevocationStore(10, time.Hour))
	require.NoError(t, err)
	pair, err := sessions.Issue(context.Background(), session.Subject{UserID: 7, TenantID: 10, Email: "dave@example.com"})
	require.NoError(t, err)

	p, err := NewProvider(&IdentityProviderConfig{Type: ProviderTypeLocal}, Deps{LoginCodes: sessions})
	require.NoError(t, err)
	callback := testCallback(t, ProviderTypeLocal)

	authURL, err := p.AuthorizationURL("state-1", callback)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "/login", u.Path)
	assert.Equal(t, "acme", u.Query().Get("orgId"))
	assert.Equal(t, "state-1", u.Query().Get("state"))
	assert.Equal(t, callback.String(), u.Query().Get("callback"))

	claims, err := p.Exchange(context.Background(), CallbackParams{TenantID: 10, Code: pair.AccessToken}, callback)
	require.NoError(t, err)
	identity, err := p.MapClaims(claims, UserMapping{EmailField: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, &Identity{Subject: "7", Email: "dave@example.com", Name: "dave@example.com"}, identity)

	_, err = p.Exchange(context.Background(), CallbackParams{TenantID: 11, Code: pair.AccessToken}, callback)
	assert.ErrorIs(t, err, ErrExchangeRejected)

	_, err = p.Exchange(context.Background(), CallbackParams{TenantID: 10, Code: "garbage"}, callback)
	assert.ErrorIs(t, err, ErrExchangeRejected)

	custom, err := NewProvider(&IdentityProviderConfig{
		Type:     ProviderTypeLocal,
		Settings: json.RawMessage(`{"loginUrl":"https://app.example.com/signin"}`),
	}, Deps{LoginCodes: sessions})
	require.NoError(t, err)
	authURL, err = custom.AuthorizationURL("s", callback)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL, "https://app.example.com/signin?"))
}
