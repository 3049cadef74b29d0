package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// API key events
	EventTypeAuthAPIKeyResolved EventType = "auth.api_key_resolved"
	EventTypeAuthAPIKeyRejected EventType = "auth.api_key_rejected"
	EventTypeAdminAPIKeyCreate  EventType = "admin.api_key_create"

	// Authentication events
	EventTypeAuthLogin             EventType = "auth.login"
	EventTypeAuthLoginFailed       EventType = "auth.login_failed"
	EventTypeAuthLogout            EventType = "auth.logout"
	EventTypeAuthTokenCreate       EventType = "auth.token_create"
	EventTypeAuthTokenRefresh      EventType = "auth.token_refresh"
	EventTypeAuthTokenValidateFail EventType = "auth.token_validate_fail"
	EventTypeUserProvisioned       EventType = "auth.user_provisioned"

	// SSO events
	EventTypeSSOStart    EventType = "sso.flow_start"
	EventTypeSSOComplete EventType = "sso.flow_complete"
	EventTypeSSOFailed   EventType = "sso.flow_failed"

	// Authorization events
	EventTypeAuthzPermissionCheck EventType = "authz.permission_check"
	EventTypeAuthzAccessDenied    EventType = "authz.access_denied"
	EventTypeAuthzRoleCreate      EventType = "authz.role_create"
	EventTypeAuthzRoleDelete      EventType = "authz.role_delete"
	EventTypeAuthzRoleAssign      EventType = "authz.role_assign"
	EventTypeAuthzRoleRevoke      EventType = "authz.role_revoke"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	TenantID *int64 `json:"tenant_id,omitempty"`
	UserID   *int64 `json:"user_id,omitempty"`

	// Resource acted on, e.g. "role:12" or "provider:saml"
	Resource string `json:"resource,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with the current time and the request ID from ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

// WithTenant sets the tenant ID
func (e *Event) WithTenant(tenantID int64) *Event {
	e.TenantID = &tenantID
	return e
}

// WithUser sets the user ID
func (e *Event) WithUser(userID int64) *Event {
	e.UserID = &userID
	return e
}

// WithRequest copies client address and user agent from r
func (e *Event) WithRequest(r *http.Request) *Event {
	if r == nil {
		return e
	}
	e.IPAddress = clientIP(r)
	e.UserAgent = r.UserAgent()
	return e
}

// WithMeta adds a metadata entry
func (e *Event) WithMeta(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
