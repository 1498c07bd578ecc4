package request

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bharosa/pkg/requestcontext"
)

func TestClientIPFromRemoteAddr(t *testing.T) {
	var seen string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.ClientIP(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.RemoteAddr = "10.1.2.3:51234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "10.1.2.3", seen)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	var seen string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.ClientIP(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.9", seen)
}

func TestRequestIDGeneratedWhenHeaderInvalid(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Request-ID", "bad id with spaces")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotEmpty(t, seen)
	assert.NotEqual(t, "bad id with spaces", seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}
