// Package guarderr defines the closed set of guard failures and their stable
// JSON rendering. Every stage in front of a handler (CSRF, rate limiting,
// session/RBAC, entitlements) fails with one of these.
package guarderr

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pharoshq/pharos/pkg/httputil"
)

// Code identifies a guard failure
type Code string

const (
	CodeCSRFInvalid     Code = "CSRF_INVALID"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeTooManyRequests Code = "TOO_MANY_REQUESTS"
)

// Valid reports whether c is one of the defined codes
func (c Code) Valid() bool {
	switch c {
	case CodeCSRFInvalid, CodeUnauthorized, CodeForbidden, CodeTooManyRequests:
		return true
	}
	return false
}

// HTTPStatus maps a code to its response status
func (c Code) HTTPStatus() int {
	switch c {
	case CodeCSRFInvalid, CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// Fixed messages. They never mention the workspace or why access failed so a
// caller cannot probe for workspace existence.
const (
	msgCSRFInvalid     = "Invalid CSRF token"
	msgUnauthorized    = "Unauthorized"
	msgForbidden       = "Forbidden"
	msgTooManyRequests = "Too many requests"
)

// Error is a guard failure
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	// Details is rendered into the body; only entitlement denials set it.
	Details map[string]interface{}
	// RetryAfter is sent as the Retry-After header when positive.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: code.HTTPStatus()}
}

func CSRFInvalid() *Error  { return newError(CodeCSRFInvalid, msgCSRFInvalid) }
func Unauthorized() *Error { return newError(CodeUnauthorized, msgUnauthorized) }
func Forbidden() *Error    { return newError(CodeForbidden, msgForbidden) }

// TooManyRequests builds a 429 that tells the client when the window resets
func TooManyRequests(retryAfter time.Duration) *Error {
	e := newError(CodeTooManyRequests, msgTooManyRequests)
	e.RetryAfter = retryAfter
	return e
}

// ForbiddenWithDetails builds a 403 carrying structured details for the
// caller, e.g. which plan feature is locked. Used only after membership has
// been established, so the details never leak across tenants.
func ForbiddenWithDetails(message string, details map[string]interface{}) *Error {
	e := newError(CodeForbidden, message)
	e.Details = details
	return e
}

// As extracts a guard error from err's chain
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Response converts e into the shared error body
func (e *Error) Response() httputil.ErrorResponse {
	return httputil.ErrorResponse{
		Code:       string(e.Code),
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		Details:    e.Details,
	}
}

// Write renders e to w
func Write(w http.ResponseWriter, e *Error) {
	if e.RetryAfter > 0 {
		secs := int64((e.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httputil.WriteErrorResponse(w, e.Response())
}
