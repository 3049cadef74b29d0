package session

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Handlers exposes token refresh, verification and logout
type Handlers struct {
	svc *Service
}

// NewHandlers creates session handlers
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes registers session routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	authenticated := Middleware(h.svc)

	router.HandleFunc("/api/v2/auth/refresh", h.Refresh).Methods(http.MethodPost)
	router.Handle("/api/v2/auth/verify", authenticated(http.HandlerFunc(h.Verify))).Methods(http.MethodGet)
	router.Handle("/api/v2/auth/logout", authenticated(http.HandlerFunc(h.Logout))).Methods(http.MethodPost)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges a refresh token (bearer, or refreshToken in the body) for a new access token
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	token := httputil.BearerToken(r)
	if token == "" && r.ContentLength != 0 {
		var req refreshRequest
		if err := httputil.ParseJSON(r, &req); err == nil {
			token = req.RefreshToken
		}
	}

	tenantID, ok := expectedTenant(r)
	if !ok {
		httputil.WriteBadRequest(w, "invalid tenant id")
		return
	}

	pair, err := h.svc.Refresh(r.Context(), token, tenantID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("token refresh failed")
		httputil.WriteInternalError(w)
		return
	}
	if pair == nil {
		httputil.WriteUnauthorized(w, "re-authentication required")
		return
	}

	httputil.WriteSuccess(w, pair)
}

// Verify returns the claims of the presented access token
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	httputil.WriteSuccess(w, map[string]interface{}{
		"valid":  true,
		"claims": claims,
	})
}

// Logout revokes the session of the presented access token
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.svc.Logout(r.Context(), claims); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("logout failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteNoContent(w)
}
