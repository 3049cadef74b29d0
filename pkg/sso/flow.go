package sso

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// FlowState is the position of a login attempt in the SSO state machine
type FlowState string

const (
	FlowIdle                   FlowState = "idle"
	FlowAuthorizationRequested FlowState = "authorization_requested"
	FlowCallbackReceived       FlowState = "callback_received"
	FlowTokenExchanged         FlowState = "token_exchanged"
	FlowProvisioned            FlowState = "provisioned"
	FlowFailed                 FlowState = "failed"
)

// ErrInvalidTransition is returned when a flow is moved along an edge that does not exist
var ErrInvalidTransition = errors.New("invalid flow transition")

// transitions lists the legal successors of each state. Any non-terminal
// state may fail.
var transitions = map[FlowState][]FlowState{
	FlowIdle:                   {FlowAuthorizationRequested, FlowFailed},
	FlowAuthorizationRequested: {FlowCallbackReceived, FlowFailed},
	FlowCallbackReceived:       {FlowTokenExchanged, FlowFailed},
	FlowTokenExchanged:         {FlowProvisioned, FlowFailed},
}

// IsTerminal reports whether no further transitions are possible
func (s FlowState) IsTerminal() bool {
	return s == FlowProvisioned || s == FlowFailed
}

// ErrorCode is the opaque reason shown to end users when a flow fails
type ErrorCode string

const (
	CodeCallbackFailed ErrorCode = "callback_failed"
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeAccessDenied   ErrorCode = "access_denied"
	CodeUnknown        ErrorCode = "unknown"
)

// maxDetailsLength bounds the details string carried to the error page
const maxDetailsLength = 200

// CallbackError is the failure of a flow. Err holds the raw cause for server
// logs; Details is truncated and scrubbed for the browser.
type CallbackError struct {
	Code    ErrorCode
	Details string
	Err     error
}

func (e *CallbackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sso %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("sso %s", e.Code)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Flow is one login attempt
type Flow struct {
	State    FlowState
	Provider ProviderType
	OrgID    string
	TenantID int64

	ReturnURL ReturnURL
	Callback  CallbackURL

	// OAuthState is the anti-forgery value round-tripped through the provider
	OAuthState       string
	AuthorizationURL string

	User        *auth.User
	RedirectURL string
	Err         *CallbackError

	// secrets are scrubbed from Details
	secrets []string
}

func newFlow(provider ProviderType, orgID string) *Flow {
	return &Flow{State: FlowIdle, Provider: provider, OrgID: orgID}
}

func (f *Flow) transition(to FlowState) error {
	for _, next := range transitions[f.State] {
		if next == to {
			f.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.State, to)
}

// fail moves the flow to Failed. A flow that already ended keeps its outcome.
func (f *Flow) fail(code ErrorCode, err error) *Flow {
	if f.transition(FlowFailed) != nil {
		return f
	}
	details := ""
	if err != nil {
		details = scrubDetails(err.Error(), f.secrets)
	}
	f.Err = &CallbackError{Code: code, Details: details, Err: err}
	return f
}

// ErrorRedirect returns the error page URL carrying the failure code and details
func (f *Flow) ErrorRedirect(errorPage string) string {
	code, details := CodeUnknown, ""
	if f.Err != nil {
		code, details = f.Err.Code, f.Err.Details
	}
	return errorPageURL(errorPage, code, details)
}

func errorPageURL(errorPage string, code ErrorCode, details string) string {
	u, err := url.Parse(errorPage)
	if err != nil {
		u = &url.URL{Path: "/auth/error"}
	}
	q := u.Query()
	q.Set("code", string(code))
	if details != "" {
		q.Set("details", details)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func scrubDetails(details string, secrets []string) string {
	for _, secret := range secrets {
		if secret != "" {
			details = strings.ReplaceAll(details, secret, "[redacted]")
		}
	}
	if len(details) <= maxDetailsLength {
		return details
	}
	cut := maxDetailsLength
	for cut > 0 && !utf8.RuneStart(details[cut]) {
		cut--
	}
	return details[:cut]
}
