package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore keeps sessions in the sessions table
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed session store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts a session
func (s *SQLStore) Create(ctx context.Context, tokenHash string, sess *Session) error {
	query := `
		INSERT INTO sessions (token_hash, id, user_id, workspace_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		tokenHash,
		sess.ID,
		sess.UserID,
		sql.NullString{String: sess.WorkspaceID, Valid: sess.WorkspaceID != ""},
		sess.CreatedAt.UTC(),
		sess.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a session by token hash
func (s *SQLStore) Get(ctx context.Context, tokenHash string) (*Session, error) {
	query := `
		SELECT id, user_id, workspace_id, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1
	`

	var sess Session
	var workspaceID sql.NullString
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&sess.ID,
		&sess.UserID,
		&workspaceID,
		&sess.CreatedAt,
		&sess.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.WorkspaceID = workspaceID.String
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return &sess, nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *SQLStore) Delete(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = $1", tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired purges sessions that expired before cutoff
func (s *SQLStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return n, nil
}
