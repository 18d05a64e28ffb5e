package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pharoshq/pharos/pkg/contextkeys"
	"github.com/pharoshq/pharos/pkg/guarderr"
	"github.com/pharoshq/pharos/pkg/observability"
)

// Middleware loads the session cookie into the request context. It never
// rejects: routes decide whether a session is required. A store failure is
// recorded in the context so Require can tell it apart from no session.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.Resolve(r.Context(), token)
		if err != nil {
			if IsInvalid(err) {
				next.ServeHTTP(w, r)
				return
			}
			observability.FromContext(r.Context()).WithError(err).Error("Failed to load session")
			next.ServeHTTP(w, r.WithContext(contextkeys.WithSessionError(r.Context(), err)))
			return
		}

		ctx := WithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require returns the request session. Without one it fails with a 401
// guard error, unless the session store failed, in which case the store
// error is returned so it surfaces as a 500.
func Require(ctx context.Context) (*Session, error) {
	if sess, ok := FromContext(ctx); ok {
		return sess, nil
	}
	if err := contextkeys.GetSessionError(ctx); err != nil {
		return nil, fmt.Errorf("session store unavailable: %w", err)
	}
	return nil, guarderr.Unauthorized()
}

// WithSession attaches sess and its user ID to ctx
func WithSession(ctx context.Context, sess *Session) context.Context {
	ctx = contextkeys.WithSession(ctx, sess)
	return contextkeys.WithUserID(ctx, sess.UserID)
}

// FromContext returns the session loaded by Middleware
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(contextkeys.SessionKey).(*Session)
	return sess, ok && sess != nil
}
