package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharoshq/pharos/pkg/auth"
	"github.com/pharoshq/pharos/pkg/guarderr"
)

func TestVerify_MethodMatrix(t *testing.T) {
	methods := []struct {
		method   string
		mutating bool
	}{
		{http.MethodGet, false},
		{http.MethodHead, false},
		{http.MethodOptions, false},
		{http.MethodPost, true},
		{http.MethodPut, true},
		{http.MethodPatch, true},
		{http.MethodDelete, true},
	}

	pairs := []struct {
		name   string
		cookie string
		header string
		valid  bool
	}{
		{"matching", "tok", "tok", true},
		{"both empty", "", "", false},
		{"missing cookie", "", "tok", false},
		{"missing header", "tok", "", false},
		{"different", "tok", "tok2", false},
		{"case differs", "Tok", "tok", false},
	}

	for _, m := range methods {
		for _, p := range pairs {
			t.Run(m.method+"/"+p.name, func(t *testing.T) {
				err := Verify(m.method, p.cookie, p.header)
				if !m.mutating || p.valid {
					assert.NoError(t, err)
					return
				}
				ge, ok := guarderr.As(err)
				require.True(t, ok)
				assert.Equal(t, guarderr.CodeCSRFInvalid, ge.Code)
				assert.Equal(t, http.StatusForbidden, ge.HTTPStatus)
			})
		}
	}
}

func TestVerifier_IssueAndVerifyRequest(t *testing.T) {
	v := NewVerifier(Config{Secure: true})

	rec := httptest.NewRecorder()
	token, err := v.Issue(rec)
	require.NoError(t, err)
	require.NoError(t, auth.ValidateTokenFormat(token, auth.CSRFTokenPrefix))

	resp := rec.Result()
	require.Len(t, resp.Cookies(), 1)
	c := resp.Cookies()[0]
	assert.Equal(t, CookieName, c.Name)
	assert.Equal(t, token, c.Value)
	assert.True(t, c.Secure)
	assert.False(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	req.Header.Set(HeaderName, token)
	assert.NoError(t, v.VerifyRequest(req))

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderName, token)
	assert.Error(t, v.VerifyRequest(req))
}

func TestVerifier_IssueRotates(t *testing.T) {
	v := NewVerifier(Config{})
	a, err := v.Issue(httptest.NewRecorder())
	require.NoError(t, err)
	b, err := v.Issue(httptest.NewRecorder())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifier_Clear(t *testing.T) {
	rec := httptest.NewRecorder()
	NewVerifier(Config{}).Clear(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}
