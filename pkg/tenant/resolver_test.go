package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

const (
	testAuthKey    = "auth_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testLoggingKey = "logging_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	testInactive   = "auth_cccccccccccccccccccccccccccccccccccccccc"
)

// memoryStore is an in-memory Store for tests
type memoryStore struct {
	mu      sync.Mutex
	tenants map[int64]*Tenant
	keys    map[string]int64 // module:hash -> tenant id
	err     error
}

func newMemoryStore() *memoryStore {
	s := &memoryStore{
		tenants: map[int64]*Tenant{
			1: {ID: 1, OrgID: "acme", Name: "Acme", Status: StatusActive},
			2: {ID: 2, OrgID: "dormant", Name: "Dormant", Status: StatusSuspended},
		},
		keys: map[string]int64{},
	}
	s.keys["auth:"+HashKey(testAuthKey)] = 1
	s.keys["logging:"+HashKey(testLoggingKey)] = 1
	s.keys["auth:"+HashKey(testInactive)] = 2
	return s
}

func (s *memoryStore) GetByAPIKey(ctx context.Context, module Module, keyHash string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	id, ok := s.keys[string(module)+":"+keyHash]
	if !ok {
		return nil, ErrInvalidKey
	}
	return s.tenants[id], nil
}

func (s *memoryStore) GetByID(ctx context.Context, id int64) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[id]; ok {
		return t, nil
	}
	return nil, ErrTenantNotFound
}

func (s *memoryStore) GetByOrgID(ctx context.Context, orgID string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.OrgID == orgID {
			return t, nil
		}
	}
	return nil, ErrTenantNotFound
}

func (s *memoryStore) CreateAPIKey(ctx context.Context, tenantID int64, module Module, keyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, id := range s.keys {
		if id == tenantID && len(k) > len(module) && k[:len(module)+1] == string(module)+":" {
			return ErrKeyExists
		}
	}
	s.keys[string(module)+":"+keyHash] = tenantID
	return nil
}

// mockAuditLogger records audit events
type mockAuditLogger struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *mockAuditLogger) Log(ctx context.Context, event *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAuditLogger) Close() error { return nil }

func (m *mockAuditLogger) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		family   Module
		key      string
		fallback bool
		wantErr  error
		wantID   int64
	}{
		{name: "auth key for auth", family: ModuleAuth, key: testAuthKey, wantID: 1},
		{name: "logging key for logging", family: ModuleLogging, key: testLoggingKey, wantID: 1},
		{name: "auth key for logging with fallback", family: ModuleLogging, key: testAuthKey, fallback: true, wantID: 1},
		{name: "auth key for logging without fallback", family: ModuleLogging, key: testAuthKey, wantErr: ErrInvalidKeyFormat},
		{name: "logging key for auth", family: ModuleAuth, key: testLoggingKey, fallback: true, wantErr: ErrInvalidKeyFormat},
		{name: "bad prefix", family: ModuleAuth, key: "billing_0123456789abcdef01", wantErr: ErrInvalidKeyFormat},
		{name: "too short", family: ModuleAuth, key: "auth_123", wantErr: ErrInvalidKeyFormat},
		{name: "unknown key", family: ModuleAuth, key: "auth_dddddddddddddddddddddddddddddddddddddddd", wantErr: ErrInvalidKey},
		{name: "inactive tenant", family: ModuleAuth, key: testInactive, wantErr: ErrTenantInactive},
		{name: "empty", family: ModuleAuth, key: "", wantErr: ErrMissingKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditLog := &mockAuditLogger{}
			resolver := NewResolver(newMemoryStore(), auditLog, nil, tt.fallback)

			got, err := resolver.Resolve(context.Background(), tt.family, tt.key)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				require.NotNil(t, auditLog.last())
				assert.Equal(t, audit.EventTypeAuthAPIKeyRejected, auditLog.last().EventType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.ID)
			require.NotNil(t, auditLog.last())
			assert.Equal(t, audit.EventTypeAuthAPIKeyResolved, auditLog.last().EventType)
		})
	}
}

func TestResolver_StoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	metrics := observability.NewTestMetrics()
	resolver := NewResolver(store, nil, metrics, true)

	_, err := resolver.Resolve(context.Background(), ModuleAuth, testAuthKey)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.APIKeyResolutionsTotal.WithLabelValues("auth", "error")))
}

func TestResolver_IssueAPIKey(t *testing.T) {
	store := newMemoryStore()
	resolver := NewResolver(store, nil, nil, false)
	ctx := context.Background()

	key, err := resolver.IssueAPIKey(ctx, "dormant", ModuleLogging)
	require.NoError(t, err)

	// The new key resolves once the tenant is active
	store.tenants[2].Status = StatusActive
	got, err := resolver.Resolve(ctx, ModuleLogging, key)
	require.NoError(t, err)
	assert.Equal(t, "dormant", got.OrgID)

	// Keys are immutable: a second one for the same module is refused
	_, err = resolver.IssueAPIKey(ctx, "dormant", ModuleLogging)
	assert.ErrorIs(t, err, ErrKeyExists)

	_, err = resolver.IssueAPIKey(ctx, "missing-org", ModuleAuth)
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMiddleware(t *testing.T) {
	resolver := NewResolver(newMemoryStore(), nil, nil, true)

	var seen *Tenant
	handler := Middleware(resolver, ModuleAuth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{name: "missing key", wantStatus: http.StatusUnauthorized, wantBody: `{"error":"API key required"}`},
		{name: "basic auth is no key", headers: map[string]string{"Authorization": "Basic abc123"}, wantStatus: http.StatusUnauthorized, wantBody: `{"error":"API key required"}`},
		{name: "bad format", headers: map[string]string{"X-API-Key": "nope"}, wantStatus: http.StatusUnauthorized, wantBody: `{"error":"authentication failed"}`},
		{name: "unknown key", headers: map[string]string{"X-API-Key": "auth_dddddddddddddddddddddddddddddddddddddddd"}, wantStatus: http.StatusUnauthorized, wantBody: `{"error":"authentication failed"}`},
		{name: "inactive tenant", headers: map[string]string{"X-API-Key": testInactive}, wantStatus: http.StatusForbidden, wantBody: `{"error":"authentication failed"}`},
		{name: "valid", headers: map[string]string{"X-API-Key": testAuthKey}, wantStatus: http.StatusOK},
		{name: "valid bearer", headers: map[string]string{"Authorization": "Bearer " + testAuthKey}, wantStatus: http.StatusOK},
		{name: "matching tenant header by id", headers: map[string]string{"X-API-Key": testAuthKey, "X-Tenant-ID": "1"}, wantStatus: http.StatusOK},
		{name: "matching tenant header by org", headers: map[string]string{"X-API-Key": testAuthKey, "X-Tenant-ID": "acme"}, wantStatus: http.StatusOK},
		{name: "mismatched tenant header", headers: map[string]string{"X-API-Key": testAuthKey, "X-Tenant-ID": "2"}, wantStatus: http.StatusForbidden, wantBody: `{"error":"Access denied to tenant"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, int64(1), seen.ID)
			} else {
				assert.Nil(t, seen)
			}
		})
	}
}

func TestMiddleware_StoreErrorIs500(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	handler := Middleware(NewResolver(store, nil, nil, false), ModuleAuth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", testAuthKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
