package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// recordingLogger keeps every event it receives
type recordingLogger struct {
	mu     sync.Mutex
	events []*Event
	err    error
	closed bool
}

func (r *recordingLogger) Log(ctx context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingLogger) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// blockingLogger blocks in Log until release is closed
type blockingLogger struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	recordingLogger
}

func (b *blockingLogger) Log(ctx context.Context, event *Event) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.recordingLogger.Log(ctx, event)
}

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.Header.Set("X-Real-IP", "198.51.100.4")
	req.Header.Set("User-Agent", "curl/8.0")

	event := NewEvent(ctx, EventTypeAuthLogin, EventStatusSuccess).
		WithTenant(7).
		WithUser(42).
		WithRequest(req).
		WithMeta("provider", "local")

	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, int64(7), *event.TenantID)
	assert.Equal(t, int64(42), *event.UserID)
	assert.Equal(t, "198.51.100.4", event.IPAddress)
	assert.Equal(t, "curl/8.0", event.UserAgent)
	assert.Equal(t, "local", event.Metadata["provider"])
	assert.False(t, event.Timestamp.IsZero())
}

func TestDBLogger_Log(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	event := NewEvent(context.Background(), EventTypeAuthzRoleAssign, EventStatusSuccess).
		WithTenant(1).
		WithUser(9).
		WithMeta("role_id", 3)
	event.Resource = "user:9"

	mock.ExpectQuery("INSERT INTO audit_events").
		WithArgs("authz.role_assign", "success", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), []byte(`{"role_id":3}`), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), event.Timestamp).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(101), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO audit_events").WillReturnError(errors.New("connection reset"))

	err = logger.Log(context.Background(), NewEvent(context.Background(), EventTypeAuthLogout, EventStatusSuccess))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit event")
}

func TestNewDBLogger_NilDatabase(t *testing.T) {
	logger, err := NewDBLogger(nil)
	assert.Error(t, err)
	assert.Nil(t, logger)
}

func TestStreamLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStreamLogger(&buf)

	event := NewEvent(context.Background(), EventTypeAuthzAccessDenied, EventStatusDenied).
		WithTenant(3).
		WithMeta("permission", "role.delete")
	event.Message = "insufficient permissions"

	require.NoError(t, logger.Log(context.Background(), event))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "authz.access_denied", entry["event_type"])
	assert.Equal(t, float64(3), entry["tenant_id"])
	assert.Equal(t, "role.delete", entry["meta_permission"])
	assert.Equal(t, "insufficient permissions", entry["msg"])
}

func TestMultiLogger(t *testing.T) {
	failing := &recordingLogger{err: errors.New("disk full")}
	ok := &recordingLogger{}
	multi := NewMultiLogger(failing, ok)

	err := multi.Log(context.Background(), NewEvent(context.Background(), EventTypeAuthLogin, EventStatusSuccess))
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, ok.count(), "later loggers still receive the event")

	require.NoError(t, multi.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestAsyncLogger_DeliversAndDrains(t *testing.T) {
	inner := &recordingLogger{}
	logger := NewAsyncLogger(inner, 16, nil, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.Log(context.Background(), NewEvent(context.Background(), EventTypeAuthTokenCreate, EventStatusSuccess)))
	}

	require.NoError(t, logger.Close())
	assert.Equal(t, 10, inner.count())
	assert.True(t, inner.closed)

	assert.ErrorIs(t, logger.Log(context.Background(), &Event{}), ErrLoggerClosed)
	assert.NoError(t, logger.Close(), "second close is a no-op")
}

func TestAsyncLogger_DropsWhenFull(t *testing.T) {
	inner := &blockingLogger{started: make(chan struct{}), release: make(chan struct{})}
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_dropped_total"})
	logger := NewAsyncLogger(inner, 1, dropped, nil)

	// First event occupies the worker
	require.NoError(t, logger.Log(context.Background(), &Event{EventType: EventTypeAuthLogin}))
	select {
	case <-inner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first event")
	}

	// Second fills the buffer, third is dropped; neither blocks
	require.NoError(t, logger.Log(context.Background(), &Event{EventType: EventTypeAuthLogin}))
	require.NoError(t, logger.Log(context.Background(), &Event{EventType: EventTypeAuthLogin}))
	assert.Equal(t, float64(1), testutil.ToFloat64(dropped))

	close(inner.release)
	require.NoError(t, logger.Close())
	assert.Equal(t, 2, inner.count())
}

func TestAsyncLogger_InnerErrorDoesNotStopWorker(t *testing.T) {
	inner := &recordingLogger{err: errors.New("insert failed")}
	logger := NewAsyncLogger(inner, 4, nil, nil)

	require.NoError(t, logger.Log(context.Background(), &Event{EventType: EventTypeAuthLogin}))
	require.NoError(t, logger.Log(context.Background(), &Event{EventType: EventTypeAuthLogout}))
	require.NoError(t, logger.Close())

	assert.Equal(t, 2, inner.count())
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	assert.NoError(t, logger.Log(context.Background(), &Event{}))
	assert.NoError(t, logger.Close())
}
