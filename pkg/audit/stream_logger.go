package audit

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// StreamLogger writes audit events as JSON lines, one per event, for log shippers
type StreamLogger struct {
	log *logrus.Logger
}

// NewStreamLogger creates a stream logger writing to w (stdout when nil)
func NewStreamLogger(w io.Writer) *StreamLogger {
	if w == nil {
		w = os.Stdout
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	return &StreamLogger{log: log}
}

// Log writes the event. Denied and failed events are written at warning level.
func (l *StreamLogger) Log(ctx context.Context, event *Event) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.TenantID != nil {
		fields["tenant_id"] = *event.TenantID
	}
	if event.UserID != nil {
		fields["user_id"] = *event.UserID
	}
	if event.Resource != "" {
		fields["resource"] = event.Resource
	}
	if event.IPAddress != "" {
		fields["ip_address"] = event.IPAddress
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.log.WithFields(fields).WithTime(event.Timestamp)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// Close is a no-op
func (l *StreamLogger) Close() error {
	return nil
}
