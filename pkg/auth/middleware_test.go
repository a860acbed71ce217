package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newPassthroughHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	mw := Middleware(Config{Enabled: false})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	mw(newPassthroughHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsMissingVendorHeader(t *testing.T) {
	mw := Middleware(Config{Enabled: true, Token: "lightd_abc"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer lightd_abc")
	rec := httptest.NewRecorder()

	mw(newPassthroughHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	mw := Middleware(Config{Enabled: true, Token: "lightd_abc"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", VendorHeader)
	req.Header.Set("Authorization", "Bearer lightd_wrong")
	rec := httptest.NewRecorder()

	mw(newPassthroughHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsDisallowedOrigin(t *testing.T) {
	mw := Middleware(Config{Enabled: true, Token: "lightd_abc", AllowedOrigins: []string{"https://allowed.example"}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	mw(newPassthroughHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddlewareAllowsValidRequest(t *testing.T) {
	mw := Middleware(Config{Enabled: true, Token: "lightd_abc", AllowedOrigins: []string{"https://allowed.example"}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://allowed.example")
	req.Header.Set("Accept", VendorHeader)
	req.Header.Set("Authorization", "Bearer lightd_abc")
	rec := httptest.NewRecorder()

	mw(newPassthroughHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
