package rbac

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// Handlers provides HTTP handlers for role management and permission checks
type Handlers struct {
	store    Store
	resolver *Resolver
	authz    *Middleware
	sessions *session.Service
	tenants  *tenant.Resolver
	audit    audit.Logger
}

// NewHandlers creates RBAC handlers. tenants may be nil, in which case
// check-permission only accepts session tokens.
func NewHandlers(store Store, resolver *Resolver, sessions *session.Service, tenants *tenant.Resolver, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger()
	}
	return &Handlers{
		store:    store,
		resolver: resolver,
		authz:    NewMiddleware(resolver, auditLogger),
		sessions: sessions,
		tenants:  tenants,
		audit:    auditLogger,
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	authenticated := session.Middleware(h.sessions)
	guard := func(permission string, fn http.HandlerFunc) http.Handler {
		return authenticated(h.authz.Require(permission)(fn))
	}

	// Role management
	router.Handle("/api/v2/rbac/roles", guard("role.read", h.ListRoles)).Methods(http.MethodGet)
	router.Handle("/api/v2/rbac/roles", guard("role.create", h.CreateRole)).Methods(http.MethodPost)
	router.Handle("/api/v2/rbac/roles/{id}", guard("role.delete", h.DeleteRole)).Methods(http.MethodDelete)

	// User role assignments
	router.Handle("/rbac/users/{id}/roles", guard("role.assign", h.AssignRole)).Methods(http.MethodPost)
	router.Handle("/rbac/users/{id}/roles/{role_id}", guard("role.assign", h.RevokeRole)).Methods(http.MethodDelete)
	router.Handle("/rbac/users/{id}/permissions", guard("role.read", h.GetUserPermissions)).Methods(http.MethodGet)

	// Permission checking authenticates itself: session token or API key
	router.HandleFunc("/rbac/check-permission", h.CheckPermission).Methods(http.MethodPost)
}

// ListRoles lists the caller's tenant roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	claims, _ := session.ClaimsFromContext(r.Context())

	roles, err := h.store.ListRoles(r.Context(), claims.TenantID)
	if err != nil {
		h.internalError(w, r, err, "failed to list roles")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	Priority    *int     `json:"priority,omitempty"`
}

// CreateRole creates a custom role in the caller's tenant
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := session.ClaimsFromContext(ctx)

	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	details := map[string]string{}
	if req.Name == "" {
		details["name"] = "name is required"
	}
	for _, p := range req.Permissions {
		if err := ValidatePattern(p); err != nil {
			details["permissions"] = err.Error()
			break
		}
	}
	if len(details) > 0 {
		httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid role", details)
		return
	}

	role := &Role{
		TenantID:    claims.TenantID,
		Name:        req.Name,
		Description: req.Description,
		Permissions: dedupe(req.Permissions),
		Priority:    100,
	}
	if req.Priority != nil {
		role.Priority = *req.Priority
	}

	if err := h.store.CreateRole(ctx, role); err != nil {
		if errors.Is(err, ErrRoleExists) {
			httputil.WriteConflict(w, "role already exists")
			return
		}
		h.internalError(w, r, err, "failed to create role")
		return
	}

	h.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthzRoleCreate, audit.EventStatusSuccess).
		WithTenant(claims.TenantID).
		WithUser(claims.UserID).
		WithRequest(r).
		WithMeta("role", role.Name))

	httputil.WriteCreated(w, role)
}

// DeleteRole deletes a custom role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := session.ClaimsFromContext(ctx)

	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteRole(ctx, claims.TenantID, roleID); err != nil {
		switch {
		case errors.Is(err, ErrRoleNotFound):
			httputil.WriteNotFound(w, "role not found")
		case errors.Is(err, ErrSystemRole):
			httputil.WriteForbidden(w, "system roles cannot be deleted")
		default:
			h.internalError(w, r, err, "failed to delete role")
		}
		return
	}

	h.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthzRoleDelete, audit.EventStatusSuccess).
		WithTenant(claims.TenantID).
		WithUser(claims.UserID).
		WithRequest(r).
		WithMeta("role_id", roleID))

	httputil.WriteNoContent(w)
}

type assignRoleRequest struct {
	RoleID int64 `json:"roleId"`
}

// AssignRole assigns a role to a user of the caller's tenant
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := session.ClaimsFromContext(ctx)

	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID <= 0 {
		httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid assignment", map[string]string{"roleId": "roleId is required"})
		return
	}

	assignedBy := claims.UserID
	assignment := &RoleAssignment{
		UserID:     userID,
		RoleID:     req.RoleID,
		TenantID:   claims.TenantID,
		AssignedBy: &assignedBy,
	}
	if err := h.store.AssignRole(ctx, assignment); err != nil {
		switch {
		case errors.Is(err, ErrRoleNotFound):
			httputil.WriteNotFound(w, "role not found")
		case errors.Is(err, ErrUserNotFound):
			httputil.WriteNotFound(w, "user not found")
		default:
			h.internalError(w, r, err, "failed to assign role")
		}
		return
	}

	h.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthzRoleAssign, audit.EventStatusSuccess).
		WithTenant(claims.TenantID).
		WithUser(claims.UserID).
		WithRequest(r).
		WithMeta("target_user_id", userID).
		WithMeta("role_id", req.RoleID))

	httputil.WriteCreated(w, assignment)
}

// RevokeRole removes a role from a user
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := session.ClaimsFromContext(ctx)

	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.store.RevokeRole(ctx, claims.TenantID, userID, roleID); err != nil {
		if errors.Is(err, ErrAssignmentNotFound) {
			httputil.WriteNotFound(w, "role assignment not found")
			return
		}
		h.internalError(w, r, err, "failed to revoke role")
		return
	}

	h.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthzRoleRevoke, audit.EventStatusSuccess).
		WithTenant(claims.TenantID).
		WithUser(claims.UserID).
		WithRequest(r).
		WithMeta("target_user_id", userID).
		WithMeta("role_id", roleID))

	httputil.WriteNoContent(w)
}

type userPermissionsResponse struct {
	UserID      int64    `json:"userId"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// GetUserPermissions lists a user's roles and effective permission patterns
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := session.ClaimsFromContext(ctx)

	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	roles, err := h.store.GetUserRoles(ctx, claims.TenantID, userID)
	if err != nil {
		h.internalError(w, r, err, "failed to get user roles")
		return
	}
	perms, err := h.resolver.EffectivePermissions(ctx, claims.TenantID, userID)
	if err != nil {
		h.internalError(w, r, err, "failed to resolve permissions")
		return
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	httputil.WriteSuccess(w, userPermissionsResponse{UserID: userID, Roles: names, Permissions: perms})
}

type checkPermissionRequest struct {
	UserID      *int64   `json:"userId,omitempty"`
	Permission  string   `json:"permission,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	RequireAll  bool     `json:"requireAll"`
}

// CheckPermissionResponse is the check-permission result
type CheckPermissionResponse struct {
	Allowed bool            `json:"allowed"`
	Results map[string]bool `json:"results"`
}

// CheckPermission answers permission queries for tenant services and clients.
// With an API key the tenant comes from the key and userId is required. With a
// session token the user defaults to the caller; asking about another user
// needs role.read.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	permissions := req.Permissions
	if req.Permission != "" {
		permissions = append([]string{req.Permission}, permissions...)
	}
	permissions = dedupe(permissions)
	if len(permissions) == 0 {
		httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid permission check", map[string]string{"permission": "permission or permissions is required"})
		return
	}

	tenantID, userID, ok := h.checkSubject(w, r, req.UserID)
	if !ok {
		return
	}

	results, err := h.resolver.HasPermissions(ctx, tenantID, userID, permissions)
	if err != nil {
		h.internalError(w, r, err, "permission check failed")
		return
	}

	_, allowed := evaluate(results, permissions, req.RequireAll)
	status := audit.EventStatusSuccess
	if !allowed {
		status = audit.EventStatusDenied
	}
	h.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthzPermissionCheck, status).
		WithTenant(tenantID).
		WithUser(userID).
		WithRequest(r).
		WithMeta("permissions", permissions).
		WithMeta("require_all", req.RequireAll))

	httputil.WriteSuccess(w, CheckPermissionResponse{Allowed: allowed, Results: results})
}

// checkSubject authenticates the check-permission caller and picks the user to check
func (h *Handlers) checkSubject(w http.ResponseWriter, r *http.Request, requested *int64) (int64, int64, bool) {
	ctx := r.Context()

	key := tenant.ExtractAPIKey(r)
	if key == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return 0, 0, false
	}

	if _, err := tenant.KeyModule(key); err == nil && h.tenants != nil {
		t, err := h.tenants.Resolve(ctx, tenant.ModuleAuth, key)
		if err != nil {
			tenant.WriteResolveError(w, r, err)
			return 0, 0, false
		}
		if requested == nil || *requested <= 0 {
			httputil.WriteDetailedError(w, http.StatusBadRequest, "invalid permission check", map[string]string{"userId": "userId is required with an API key"})
			return 0, 0, false
		}
		return t.ID, *requested, true
	}

	tenantID := int64(0)
	if header := r.Header.Get(tenant.TenantIDHeader); header != "" {
		id, err := strconv.ParseInt(header, 10, 64)
		if err != nil || id <= 0 {
			httputil.WriteBadRequest(w, "invalid tenant id")
			return 0, 0, false
		}
		tenantID = id
	}

	claims, err := h.sessions.Verify(ctx, key, tenantID)
	if err != nil {
		if errors.Is(err, session.ErrTenantMismatch) {
			httputil.WriteForbidden(w, "Access denied to tenant")
			return 0, 0, false
		}
		httputil.WriteUnauthorized(w, "authentication failed")
		return 0, 0, false
	}

	if requested == nil || *requested == claims.UserID {
		return claims.TenantID, claims.UserID, true
	}

	allowed, err := h.resolver.HasPermission(ctx, claims, "role.read")
	if err != nil {
		h.internalError(w, r, err, "permission check failed")
		return 0, 0, false
	}
	if !allowed {
		httputil.WriteJSON(w, http.StatusForbidden, InsufficientPermissionsResponse{
			Error:    "Insufficient permissions",
			Required: []string{"role.read"},
			Missing:  []string{"role.read"},
		})
		return 0, 0, false
	}
	return claims.TenantID, *requested, true
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	observability.FromContext(r.Context()).WithError(err).Error(msg)
	httputil.WriteInternalError(w)
}
