package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// Handlers serves the local login endpoint
type Handlers struct {
	svc   *Service
	limit func(http.Handler) http.Handler
}

// NewHandlers creates login handlers
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// WithRateLimit wraps the login route in limit
func (h *Handlers) WithRateLimit(limit func(http.Handler) http.Handler) *Handlers {
	h.limit = limit
	return h
}

// RegisterRoutes registers the login route. The router is expected to carry
// tenant.Middleware for the auth module.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	var login http.Handler = http.HandlerFunc(h.Login)
	if h.limit != nil {
		login = h.limit(login)
	}
	router.Handle("/auth/login", login).Methods(http.MethodPost)
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies a password and returns a token pair
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "API key required")
		return
	}

	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	result, err := h.svc.Login(r.Context(), t.ID, req.Email, req.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "Invalid credentials")
		return
	case errors.Is(err, ErrUserSuspended):
		httputil.WriteForbidden(w, "account suspended")
		return
	case err != nil:
		observability.FromContext(r.Context()).WithError(err).Error("login failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, result)
}
