package guarderr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodes(t *testing.T) {
	tests := []struct {
		err    *Error
		code   Code
		status int
	}{
		{CSRFInvalid(), CodeCSRFInvalid, http.StatusForbidden},
		{Unauthorized(), CodeUnauthorized, http.StatusUnauthorized},
		{Forbidden(), CodeForbidden, http.StatusForbidden},
		{TooManyRequests(time.Second), CodeTooManyRequests, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.True(t, tt.code.Valid())
			assert.NotEmpty(t, tt.err.Message)
		})
	}

	assert.False(t, Code("INTERNAL").Valid())
	assert.Equal(t, http.StatusInternalServerError, Code("INTERNAL").HTTPStatus())
}

func TestAs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("resolve: %w", Forbidden())

	ge, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodeForbidden, ge.Code)
	assert.True(t, errors.Is(err, Forbidden()))
	assert.False(t, errors.Is(err, Unauthorized()))

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, TooManyRequests(1500*time.Millisecond))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":"TOO_MANY_REQUESTS","message":"Too many requests","http_status":429}`, rec.Body.String())
}

func TestWrite_Details(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, ForbiddenWithDetails("Plan limit reached", map[string]interface{}{"locked": true, "resource": "skus"}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t,
		`{"code":"FORBIDDEN","message":"Plan limit reached","http_status":403,"details":{"locked":true,"resource":"skus"}}`,
		rec.Body.String())
}

func TestForbiddenBodiesAreIdentical(t *testing.T) {
	a, b := httptest.NewRecorder(), httptest.NewRecorder()
	Write(a, Forbidden())
	Write(b, Forbidden())
	assert.Equal(t, a.Body.String(), b.Body.String())
}
