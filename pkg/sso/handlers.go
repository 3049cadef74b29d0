package sso

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

const (
	stateCookie       = "sso_state"
	stateCookieMaxAge = 600
	stateCookiePath   = "/api/auth/"
)

// HandlersConfig configures the SSO HTTP surface
type HandlersConfig struct {
	// ErrorURL is the page failed flows are redirected to
	ErrorURL string

	// SecureCookies marks the state cookie Secure and SameSite=None so it
	// survives the cross-site SAML POST back
	SecureCookies bool
}

// Handlers serves the browser-facing SSO flow and the tenant admin endpoints
type Handlers struct {
	gateway  *Gateway
	sessions *session.Service
	authz    *rbac.Middleware
	cfg      HandlersConfig
}

// NewHandlers creates SSO handlers
func NewHandlers(gateway *Gateway, sessions *session.Service, authz *rbac.Middleware, cfg HandlersConfig) *Handlers {
	if cfg.ErrorURL == "" {
		cfg.ErrorURL = "/auth/error"
	}
	return &Handlers{gateway: gateway, sessions: sessions, authz: authz, cfg: cfg}
}

// RegisterRoutes registers SSO routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Browser flow
	router.HandleFunc("/api/auth/{provider}/{orgId}", h.Start).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/{provider}/{orgId}/callback", h.Callback).Methods(http.MethodGet, http.MethodPost)

	// Tenant admin
	authenticated := session.Middleware(h.sessions)
	router.Handle("/api/v2/sso/providers",
		authenticated(h.authz.Require("sso.read")(http.HandlerFunc(h.ListProviders)))).Methods(http.MethodGet)
	router.Handle("/api/v2/sso/providers/validate",
		authenticated(h.authz.Require("sso.manage")(http.HandlerFunc(h.ValidateProvider)))).Methods(http.MethodPost)
}

// Start handles GET /api/auth/{provider}/{orgId}
func (h *Handlers) Start(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider, err := ParseProviderType(vars["provider"])
	if err != nil {
		http.Redirect(w, r, errorPageURL(h.cfg.ErrorURL, CodeInvalidConfig, ""), http.StatusFound)
		return
	}

	q := r.URL.Query()
	flow, err := h.gateway.Start(r.Context(), StartRequest{
		Provider:     provider,
		OrgID:        vars["orgId"],
		ReturnURL:    q.Get("returnUrl"),
		RedirectBase: q.Get("redirectBase"),
		RedirectTo:   q.Get("redirectTo"),
	})
	if errors.Is(err, ErrInvalidReturnURL) {
		httputil.WriteBadRequest(w, "invalid return URL")
		return
	}
	if err != nil {
		http.Redirect(w, r, flow.ErrorRedirect(h.cfg.ErrorURL), http.StatusFound)
		return
	}

	h.setStateCookie(w, flow.OAuthState, stateCookieMaxAge)
	http.Redirect(w, r, flow.AuthorizationURL, http.StatusFound)
}

// Callback handles GET|POST /api/auth/{provider}/{orgId}/callback
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider, err := ParseProviderType(vars["provider"])
	if err != nil {
		http.Redirect(w, r, errorPageURL(h.cfg.ErrorURL, CodeInvalidConfig, ""), http.StatusFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, errorPageURL(h.cfg.ErrorURL, CodeCallbackFailed, ""), http.StatusFound)
		return
	}

	state := r.FormValue("state")
	if state == "" {
		state = r.FormValue("RelayState")
	}
	expected := ""
	if cookie, err := r.Cookie(stateCookie); err == nil {
		expected = cookie.Value
	}
	// The state is single use
	h.setStateCookie(w, "", -1)

	flow := h.gateway.Complete(r.Context(), CallbackRequest{
		Provider:         provider,
		OrgID:            vars["orgId"],
		ReturnURL:        r.URL.Query().Get("returnUrl"),
		Code:             r.FormValue("code"),
		SAMLResponse:     r.PostFormValue("SAMLResponse"),
		Error:            r.FormValue("error"),
		ErrorDescription: r.FormValue("error_description"),
		State:            state,
		ExpectedState:    expected,
	})
	if flow.State != FlowProvisioned {
		http.Redirect(w, r, flow.ErrorRedirect(h.cfg.ErrorURL), http.StatusFound)
		return
	}
	http.Redirect(w, r, flow.RedirectURL, http.StatusFound)
}

func (h *Handlers) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	cookie := &http.Cookie{
		Name:     stateCookie,
		Value:    value,
		Path:     stateCookiePath,
		HttpOnly: true,
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
	}
	if h.cfg.SecureCookies {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, cookie)
}

// ListProvidersResponse is returned by GET /api/v2/sso/providers
type ListProvidersResponse struct {
	Providers       []*IdentityProviderConfig `json:"providers"`
	DefaultProvider *IdentityProviderConfig   `json:"defaultProvider,omitempty"`
}

// ListProviders returns the caller tenant's provider configs with secrets stripped
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	claims, _ := session.ClaimsFromContext(r.Context())
	providers, def, err := h.gateway.Providers(r.Context(), claims.TenantID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list providers")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, ListProvidersResponse{Providers: providers, DefaultProvider: def})
}

// ValidateProviderRequest is the body of POST /api/v2/sso/providers/validate
type ValidateProviderRequest struct {
	Type        string          `json:"type"`
	Config      json.RawMessage `json:"config"`
	UserMapping UserMapping     `json:"userMapping"`
}

// ValidateProvider reports the settings a provider config is missing
func (h *Handlers) ValidateProvider(w http.ResponseWriter, r *http.Request) {
	var req ValidateProviderRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	providerType, err := ParseProviderType(req.Type)
	if err != nil {
		httputil.WriteBadRequest(w, "unknown provider type")
		return
	}

	claims, _ := session.ClaimsFromContext(r.Context())
	err = h.gateway.Validate(&IdentityProviderConfig{
		TenantID:    claims.TenantID,
		Type:        providerType,
		Enabled:     true,
		Settings:    req.Config,
		UserMapping: req.UserMapping,
	})

	var misconfigured *ProviderMisconfiguredError
	switch {
	case errors.As(err, &misconfigured):
		details := map[string]string{}
		if len(misconfigured.Missing) > 0 {
			details["missing"] = strings.Join(misconfigured.Missing, ",")
		}
		if misconfigured.Reason != "" {
			details["reason"] = misconfigured.Reason
		}
		httputil.WriteDetailedError(w, http.StatusBadRequest, "provider misconfigured", details)
		return
	case err != nil:
		observability.FromContext(r.Context()).WithError(err).Error("failed to validate provider")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"valid": true,
		"type":  providerType,
	})
}
