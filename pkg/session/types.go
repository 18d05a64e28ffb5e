package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when no session matches a token
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned for a session past its ExpiresAt
	ErrSessionExpired = errors.New("session expired")
)

// Session is an authenticated browser session. The raw token is never
// stored; stores key sessions by the token's SHA-256 hash.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether s is no longer valid at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions keyed by token hash
type Store interface {
	Create(ctx context.Context, tokenHash string, s *Session) error
	// Get returns ErrSessionNotFound when tokenHash is unknown. Expiry is
	// checked by the caller against its own clock.
	Get(ctx context.Context, tokenHash string) (*Session, error)
	Delete(ctx context.Context, tokenHash string) error
}
