// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This keeps request-scoped values discoverable and prevents collisions between
// packages that would otherwise import each other only for a key.
//
// USAGE PATTERN:
//
//	import "github.com/pharoshq/pharos/pkg/contextkeys"
//	ctx = contextkeys.WithSession(ctx, sess)
//	sess, _ := ctx.Value(contextkeys.SessionKey).(*session.Session)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *session.Session
	// Set by: session.Middleware (pkg/session/middleware.go)
	// Required by: rbac.Resolver, guard scope function, logout
	// Type: *session.Session
	SessionKey Key = "session"

	// SessionErrorKey contains the error from a failed session lookup
	// Set by: session.Middleware when the session store is unavailable
	// Required by: session.Require, so an outage is a 500 rather than a 401
	// Type: error
	SessionErrorKey Key = "session_error"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: session.Middleware when a valid session is attached
	// Used by: Logger, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// RouteKey contains the guarded route name
	// Set by: guard.Composer
	// Used by: audit trail, metrics labels in handlers
	// Type: string
	RouteKey Key = "route"
)

// WithSession adds the authenticated session to the context
func WithSession(ctx context.Context, sess interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}

// WithSessionError records that the session could not be loaded
func WithSessionError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, SessionErrorKey, err)
}

// GetSessionError returns the error recorded by WithSessionError, if any
func GetSessionError(ctx context.Context) error {
	if err, ok := ctx.Value(SessionErrorKey).(error); ok {
		return err
	}
	return nil
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRoute adds the guarded route name to the context
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetRoute retrieves the guarded route name from context
func GetRoute(ctx context.Context) string {
	if route, ok := ctx.Value(RouteKey).(string); ok {
		return route
	}
	return ""
}
