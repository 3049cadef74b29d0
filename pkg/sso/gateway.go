package sso

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// ErrTenantUnavailable is returned when the orgId does not name an active tenant
var ErrTenantUnavailable = errors.New("tenant unavailable")

// TenantLookup resolves a tenant from the orgId in the login URL
type TenantLookup interface {
	GetByOrgID(ctx context.Context, orgID string) (*tenant.Tenant, error)
}

// Accounts provisions users and mints their sessions
type Accounts interface {
	Provision(ctx context.Context, tenantID int64, email, name string) (*auth.User, error)
	IssueFor(ctx context.Context, user *auth.User, origin string) (*session.TokenPair, error)
}

// GatewayConfig configures a Gateway
type GatewayConfig struct {
	// BaseURL is the public origin callbacks are built on
	BaseURL            string
	AllowedReturnHosts []string
	ExchangeTimeout    time.Duration

	// DefaultProvider is used when a tenant has no enabled config. May be nil.
	DefaultProvider *IdentityProviderConfig

	Deps    Deps
	Audit   audit.Logger
	Metrics *observability.Metrics
}

// Gateway drives SSO login flows for every provider type
type Gateway struct {
	tenants  TenantLookup
	configs  ConfigStore
	accounts Accounts

	baseURL      string
	allowedHosts []string
	timeout      time.Duration
	defaults     *IdentityProviderConfig
	deps         Deps
	audit        audit.Logger
	metrics      *observability.Metrics
}

// NewGateway creates a gateway
func NewGateway(tenants TenantLookup, configs ConfigStore, accounts Accounts, cfg GatewayConfig) *Gateway {
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = 10 * time.Second
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewTestMetrics()
	}
	if cfg.Deps.BaseURL == "" {
		cfg.Deps.BaseURL = cfg.BaseURL
	}
	return &Gateway{
		tenants:      tenants,
		configs:      configs,
		accounts:     accounts,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		allowedHosts: cfg.AllowedReturnHosts,
		timeout:      cfg.ExchangeTimeout,
		defaults:     cfg.DefaultProvider,
		deps:         cfg.Deps,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
	}
}

// StartRequest begins a flow. ReturnURL wins over the legacy pair.
type StartRequest struct {
	Provider     ProviderType
	OrgID        string
	ReturnURL    string
	RedirectBase string
	RedirectTo   string
}

// Start moves a new flow to AuthorizationRequested. On failure the returned
// flow is Failed and the error is one of ErrInvalidReturnURL,
// ErrTenantUnavailable, ErrNoProvider or *ProviderMisconfiguredError.
func (g *Gateway) Start(ctx context.Context, req StartRequest) (*Flow, error) {
	flow := newFlow(req.Provider, req.OrgID)

	raw := req.ReturnURL
	if raw == "" {
		raw = LegacyReturnURL(req.RedirectBase, req.RedirectTo)
	}
	returnURL, err := ParseReturnURL(raw, g.allowedHosts)
	if err != nil {
		g.finish(ctx, flow.fail(CodeCallbackFailed, err))
		return flow, err
	}
	flow.ReturnURL = returnURL

	t, err := g.activeTenant(ctx, req.OrgID)
	if err != nil {
		g.finish(ctx, flow.fail(codeForSetupError(err), err))
		return flow, err
	}
	flow.TenantID = t.ID

	provider, err := g.provider(ctx, t.ID, req.Provider)
	if err != nil {
		g.finish(ctx, flow.fail(codeForSetupError(err), err))
		return flow, err
	}
	flow.Provider = provider.Type()
	flow.Callback = NewCallbackURL(g.baseURL, flow.Provider, req.OrgID, returnURL)

	state, err := newState(req.OrgID)
	if err != nil {
		g.finish(ctx, flow.fail(CodeUnknown, err))
		return flow, err
	}
	authURL, err := provider.AuthorizationURL(state, flow.Callback)
	if err != nil {
		g.finish(ctx, flow.fail(CodeInvalidConfig, err))
		return flow, err
	}

	if err := flow.transition(FlowAuthorizationRequested); err != nil {
		return flow, err
	}
	flow.OAuthState = state
	flow.AuthorizationURL = authURL

	g.metrics.SSOFlowsTotal.WithLabelValues(string(flow.Provider), string(flow.State), "").Inc()
	g.audit.Log(ctx, audit.NewEvent(ctx, audit.EventTypeSSOStart, audit.EventStatusSuccess).
		WithTenant(t.ID).
		WithMeta("provider", string(flow.Provider)))
	return flow, nil
}

// CallbackRequest carries everything the provider redirect delivered
type CallbackRequest struct {
	Provider  ProviderType
	OrgID     string
	ReturnURL string

	Code             string
	SAMLResponse     string
	Error            string
	ErrorDescription string

	// State came back from the provider; ExpectedState from the browser cookie
	State         string
	ExpectedState string
}

// Complete drives a callback to Provisioned or Failed. The returned flow is
// always terminal.
func (g *Gateway) Complete(ctx context.Context, req CallbackRequest) *Flow {
	flow := newFlow(req.Provider, req.OrgID)
	flow.State = FlowAuthorizationRequested
	flow.secrets = []string{req.Code, req.SAMLResponse}
	defer func() { g.finish(ctx, flow) }()

	returnURL, err := ParseReturnURL(req.ReturnURL, g.allowedHosts)
	if err != nil {
		return flow.fail(CodeCallbackFailed, err)
	}
	flow.ReturnURL = returnURL

	if req.Error != "" {
		code := CodeCallbackFailed
		if req.Error == "access_denied" {
			code = CodeAccessDenied
		}
		return flow.fail(code, fmt.Errorf("provider returned %s: %s", req.Error, req.ErrorDescription))
	}
	if err := g.checkState(req); err != nil {
		return flow.fail(CodeCallbackFailed, err)
	}
	if req.Code == "" && req.SAMLResponse == "" {
		return flow.fail(CodeCallbackFailed, errors.New("missing authorization code"))
	}
	if err := flow.transition(FlowCallbackReceived); err != nil {
		return flow.fail(CodeUnknown, err)
	}

	t, err := g.activeTenant(ctx, req.OrgID)
	if err != nil {
		return flow.fail(codeForSetupError(err), err)
	}
	flow.TenantID = t.ID

	// Provider and config are reloaded rather than trusted from the start leg
	cfg, err := g.selectConfig(ctx, t.ID, req.Provider)
	if err != nil {
		return flow.fail(codeForSetupError(err), err)
	}
	provider, err := NewProvider(cfg, g.deps)
	if err != nil {
		return flow.fail(codeForSetupError(err), err)
	}
	flow.Provider = provider.Type()
	flow.secrets = append(flow.secrets, secretsOf(provider)...)
	flow.Callback = NewCallbackURL(g.baseURL, flow.Provider, req.OrgID, returnURL)

	claims, err := g.exchange(ctx, provider, flow, CallbackParams{
		TenantID:     t.ID,
		Code:         req.Code,
		SAMLResponse: req.SAMLResponse,
	})
	if err != nil {
		code := CodeUnknown
		if errors.Is(err, ErrExchangeRejected) {
			code = CodeCallbackFailed
		}
		return flow.fail(code, err)
	}
	if err := flow.transition(FlowTokenExchanged); err != nil {
		return flow.fail(CodeUnknown, err)
	}

	identity, err := provider.MapClaims(claims, cfg.UserMapping)
	if err != nil {
		return flow.fail(CodeCallbackFailed, err)
	}

	user, err := g.accounts.Provision(ctx, t.ID, identity.Email, identity.Name)
	if errors.Is(err, auth.ErrUserSuspended) {
		return flow.fail(CodeAccessDenied, err)
	}
	if err != nil {
		return flow.fail(CodeUnknown, err)
	}

	pair, err := g.accounts.IssueFor(ctx, user, string(flow.Provider))
	if errors.Is(err, auth.ErrUserSuspended) {
		return flow.fail(CodeAccessDenied, err)
	}
	if err != nil {
		return flow.fail(CodeUnknown, err)
	}

	if err := flow.transition(FlowProvisioned); err != nil {
		return flow.fail(CodeUnknown, err)
	}
	flow.User = user
	flow.RedirectURL = returnURL.WithToken(pair.AccessToken)
	return flow
}

// exchange runs the provider's network step under the exchange timeout
func (g *Gateway) exchange(ctx context.Context, provider Provider, flow *Flow, params CallbackParams) (Claims, error) {
	ctx, span := observability.StartSpan(ctx, "sso.exchange",
		trace.WithAttributes(
			attribute.String("provider", string(provider.Type())),
			attribute.Int64("tenant_id", params.TenantID),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	claims, err := provider.Exchange(ctx, params, flow.Callback)
	g.metrics.SSOExchangeDuration.WithLabelValues(string(provider.Type())).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange failed")
		if ctx.Err() != nil {
			// Timeouts are never provider rejections
			return nil, fmt.Errorf("exchange aborted: %w (%v)", ctx.Err(), err)
		}
		return nil, err
	}
	return claims, nil
}

func (g *Gateway) checkState(req CallbackRequest) error {
	if req.State == "" || req.ExpectedState == "" {
		return errors.New("missing state")
	}
	if subtle.ConstantTimeCompare([]byte(req.State), []byte(req.ExpectedState)) != 1 {
		return errors.New("state mismatch")
	}
	orgID, ok := parseState(req.State)
	if !ok || orgID != req.OrgID {
		return errors.New("state issued for another organization")
	}
	return nil
}

func (g *Gateway) activeTenant(ctx context.Context, orgID string) (*tenant.Tenant, error) {
	t, err := g.tenants.GetByOrgID(ctx, orgID)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		return nil, ErrTenantUnavailable
	}
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, ErrTenantUnavailable
	}
	return t, nil
}

// provider selects a config and builds its provider
func (g *Gateway) provider(ctx context.Context, tenantID int64, want ProviderType) (Provider, error) {
	cfg, err := g.selectConfig(ctx, tenantID, want)
	if err != nil {
		return nil, err
	}
	return NewProvider(cfg, g.deps)
}

// selectConfig picks the enabled config with the lowest priority value,
// restricted to want when set. The platform default applies only when the
// tenant has no enabled config at all.
func (g *Gateway) selectConfig(ctx context.Context, tenantID int64, want ProviderType) (*IdentityProviderConfig, error) {
	configs, err := g.configs.ListProviders(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var best *IdentityProviderConfig
	hasEnabled := false
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		hasEnabled = true
		if want != "" && cfg.Type != want {
			continue
		}
		if best == nil || cfg.Priority < best.Priority {
			best = cfg
		}
	}
	if best != nil {
		return best, nil
	}

	if !hasEnabled && g.defaults != nil && (want == "" || g.defaults.Type == want) {
		def := *g.defaults
		def.TenantID = tenantID
		return &def, nil
	}
	return nil, ErrNoProvider
}

// finish records the terminal outcome of a flow
func (g *Gateway) finish(ctx context.Context, flow *Flow) {
	if !flow.State.IsTerminal() {
		return
	}
	code := ""
	eventType, status := audit.EventTypeSSOComplete, audit.EventStatusSuccess
	if flow.Err != nil {
		code = string(flow.Err.Code)
		eventType, status = audit.EventTypeSSOFailed, audit.EventStatusFailure
		observability.FromContext(ctx).WithError(flow.Err.Err).WithFields(map[string]interface{}{
			"provider":   string(flow.Provider),
			"org_id":     flow.OrgID,
			"error_code": code,
		}).Warn("sso flow failed")
	}
	g.metrics.SSOFlowsTotal.WithLabelValues(string(flow.Provider), string(flow.State), code).Inc()

	event := audit.NewEvent(ctx, eventType, status).
		WithMeta("provider", string(flow.Provider)).
		WithMeta("org_id", flow.OrgID)
	if flow.TenantID != 0 {
		event.WithTenant(flow.TenantID)
	}
	if flow.User != nil {
		event.WithUser(flow.User.ID)
	}
	if code != "" {
		event.WithMeta("code", code)
	}
	g.audit.Log(ctx, event)
}

// codeForSetupError maps tenant and config failures to an error code
func codeForSetupError(err error) ErrorCode {
	var misconfigured *ProviderMisconfiguredError
	switch {
	case errors.As(err, &misconfigured), errors.Is(err, ErrNoProvider), errors.Is(err, ErrUnknownProviderType):
		return CodeInvalidConfig
	case errors.Is(err, ErrTenantUnavailable):
		return CodeAccessDenied
	default:
		return CodeUnknown
	}
}

// newState returns base64url("{orgId}:{random hex}")
func newState(orgID string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString([]byte(orgID + ":" + hex.EncodeToString(b))), nil
}

func parseState(state string) (string, bool) {
	decoded, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return "", false
	}
	i := strings.LastIndexByte(string(decoded), ':')
	if i <= 0 {
		return "", false
	}
	return string(decoded[:i]), true
}

// Validate reports whether cfg has every setting its provider requires
func (g *Gateway) Validate(cfg *IdentityProviderConfig) error {
	_, err := NewProvider(cfg, g.deps)
	return err
}

// Providers returns the tenant's configs and the platform default, secrets removed
func (g *Gateway) Providers(ctx context.Context, tenantID int64) ([]*IdentityProviderConfig, *IdentityProviderConfig, error) {
	configs, err := g.configs.ListProviders(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	out := make([]*IdentityProviderConfig, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, cfg.Sanitized())
	}
	var def *IdentityProviderConfig
	if g.defaults != nil {
		def = g.defaults.Sanitized()
	}
	return out, def, nil
}
