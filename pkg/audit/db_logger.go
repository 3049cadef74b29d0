package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger implements audit logging to the audit_events table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger.
// The audit_events table is created by storage migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			event_type, status, tenant_id, user_id, resource,
			message, metadata, ip_address, user_agent, request_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		) RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		string(event.EventType), string(event.Status), event.TenantID, event.UserID, nullString(event.Resource),
		nullString(event.Message), metadataJSON, nullString(event.IPAddress), nullString(event.UserAgent),
		nullString(event.RequestID), event.Timestamp,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
