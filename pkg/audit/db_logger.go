package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger writes audit events to the audit_logs table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger. The table comes
// from the storage migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata sql.NullString
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO audit_logs (
			id, event_type, status, user_id, workspace_id,
			route, request_id, ip_address, message, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.ID, string(event.EventType), string(event.Status),
		nullString(event.UserID), nullString(event.WorkspaceID),
		nullString(event.Route), nullString(event.RequestID), nullString(event.IPAddress),
		event.Message, metadata, event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// ListBefore returns up to limit events older than cutoff, oldest first
func (l *DBLogger) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error) {
	query := `
		SELECT id, event_type, status, user_id, workspace_id,
		       route, request_id, ip_address, message, metadata, created_at
		FROM audit_logs
		WHERE created_at < $1
		ORDER BY created_at, id
		LIMIT $2
	`

	rows, err := l.db.QueryContext(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e                                           Event
			eventType, status                           string
			userID, workspaceID, route, requestID, addr sql.NullString
			metadata                                    sql.NullString
		)
		if err := rows.Scan(&e.ID, &eventType, &status, &userID, &workspaceID,
			&route, &requestID, &addr, &e.Message, &metadata, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		e.EventType = EventType(eventType)
		e.Status = EventStatus(status)
		e.UserID = userID.String
		e.WorkspaceID = workspaceID.String
		e.Route = route.String
		e.RequestID = requestID.String
		e.IPAddress = addr.String
		e.Timestamp = e.Timestamp.UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of %s: %w", e.ID, err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Delete removes the events with the given IDs
func (l *DBLogger) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := "DELETE FROM audit_logs WHERE id IN (" + strings.Join(placeholders, ", ") + ")"
	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the connection pool is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
