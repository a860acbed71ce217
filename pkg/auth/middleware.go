package auth

import (
	"net/http"
	"strings"
)

// VendorHeader is the Accept-header fragment every authenticated request
// must carry, per the original implementation's validate_vendor.
const VendorHeader = "Application/vnd.pkglat"

// Config configures the HTTP bearer authentication middleware.
type Config struct {
	Enabled        bool
	Token          string
	AllowedOrigins []string
}

// isOriginAllowed allows a missing Origin header, a literal "*" entry, or
// an exact match against the configured allow-list.
func isOriginAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func validateVendor(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), VendorHeader)
}

func validateBearerToken(r *http.Request, apiToken string) bool {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return false
	}
	return strings.HasPrefix(token, TokenPrefix) && token == apiToken
}

// Middleware gates a handler behind the daemon's static API bearer token,
// checking in order: origin allow-list, vendor Accept header, bearer
// token. The first failing check determines the response, matching the
// original implementation's auth_middleware.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if !isOriginAllowed(cfg.AllowedOrigins, r.Header.Get("Origin")) {
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}
			if !validateVendor(r) {
				http.Error(w, "Invalid vendor, expecting "+VendorHeader, http.StatusBadRequest)
				return
			}
			if !validateBearerToken(r, cfg.Token) {
				http.Error(w, "Invalid or missing Bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
