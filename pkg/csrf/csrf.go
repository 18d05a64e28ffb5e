// Package csrf implements double-submit cookie verification.
//
// A token is issued into a cookie readable by same-origin script, which echoes
// it in the X-CSRF-Token header on every mutating request. A cross-site form
// can make the browser send the cookie but cannot read it to set the header.
package csrf

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/pharoshq/pharos/pkg/auth"
	"github.com/pharoshq/pharos/pkg/guarderr"
)

const (
	CookieName = "pharos_csrf"
	HeaderName = "X-CSRF-Token"
)

// IsMutating reports whether method requires a CSRF check
func IsMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Verify compares cookie and header for mutating methods. Non-mutating
// methods always pass. Both values must be present and byte-identical.
func Verify(method, cookieValue, headerValue string) error {
	if !IsMutating(method) {
		return nil
	}
	if cookieValue == "" || headerValue == "" {
		return guarderr.CSRFInvalid()
	}
	if subtle.ConstantTimeCompare([]byte(cookieValue), []byte(headerValue)) != 1 {
		return guarderr.CSRFInvalid()
	}
	return nil
}

// Config holds cookie attributes
type Config struct {
	Secure bool
	Domain string
}

// Verifier issues tokens and checks requests
type Verifier struct {
	cfg Config
}

// NewVerifier creates a verifier
func NewVerifier(cfg Config) *Verifier {
	return &Verifier{cfg: cfg}
}

// VerifyRequest runs Verify with the request's cookie and header
func (v *Verifier) VerifyRequest(r *http.Request) error {
	var cookieValue string
	if c, err := r.Cookie(CookieName); err == nil {
		cookieValue = c.Value
	}
	return Verify(r.Method, cookieValue, r.Header.Get(HeaderName))
}

// Issue mints a token and sets it as the CSRF cookie. Call it whenever a
// session is established so a token never outlives the session it came with.
func (v *Verifier) Issue(w http.ResponseWriter) (string, error) {
	token, err := auth.GenerateToken(auth.CSRFTokenPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to issue csrf token: %w", err)
	}
	http.SetCookie(w, v.cookie(token, 0))
	return token, nil
}

// Clear expires the CSRF cookie
func (v *Verifier) Clear(w http.ResponseWriter) {
	http.SetCookie(w, v.cookie("", -1))
}

func (v *Verifier) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   v.cfg.Domain,
		MaxAge:   maxAge,
		Secure:   v.cfg.Secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	}
}
