package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pharoshq/pharos/pkg/auth"
)

// CookieName is the session cookie
const CookieName = "pharos_session"

// Config holds session lifetime and cookie attributes
type Config struct {
	TTL          time.Duration
	SecureCookie bool
	CookieDomain string
}

// Manager issues, resolves and revokes sessions over a Store
type Manager struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewManager creates a session manager
func NewManager(store Store, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &Manager{store: store, cfg: cfg, now: time.Now}
}

// SetClock replaces time.Now
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create starts a session for userID, optionally bound to a workspace, and
// returns the raw token for the cookie.
func (m *Manager) Create(ctx context.Context, userID, workspaceID string) (string, *Session, error) {
	token, err := auth.GenerateToken(auth.SessionTokenPrefix)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session token: %w", err)
	}

	now := m.now().UTC()
	sess := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		WorkspaceID: workspaceID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.TTL),
	}

	if err := m.store.Create(ctx, auth.HashToken(token), sess); err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Resolve returns the live session for token. Malformed and unknown tokens
// yield ErrSessionNotFound, stale ones ErrSessionExpired.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	if err := auth.ValidateTokenFormat(token, auth.SessionTokenPrefix); err != nil {
		return nil, ErrSessionNotFound
	}

	sess, err := m.store.Get(ctx, auth.HashToken(token))
	if err != nil {
		return nil, err
	}
	if sess.Expired(m.now()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Revoke deletes the session for token
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, auth.HashToken(token))
}

// SetCookie writes the session cookie for token
func (m *Manager) SetCookie(w http.ResponseWriter, token string, sess *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   m.cfg.CookieDomain,
		Expires:  sess.ExpiresAt,
		Secure:   m.cfg.SecureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cfg.CookieDomain,
		MaxAge:   -1,
		Secure:   m.cfg.SecureCookie,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the session cookie value or ""
func TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// IsInvalid reports whether err means "no usable session" as opposed to a
// store failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired)
}
