package audit

import (
	"context"
)

// Logger is a write-only audit sink
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes buffered events and releases resources
	Close() error
}

// NopLogger returns a logger that discards every event
func NopLogger() Logger {
	return noOpLogger{}
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (noOpLogger) Close() error {
	return nil
}
