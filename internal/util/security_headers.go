package util

import (
	"net/http"
	"strings"
)

const (
	apiCSP    = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
	staticCSP = "default-src 'self'; img-src 'self' data:; frame-ancestors 'none'; base-uri 'self'"
)

// WithSecurityHeaders adds security response headers. Paths under apiPrefix
// get a deny-all CSP; everything else is the bundled static UI.
func WithSecurityHeaders(apiPrefix string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
		if apiPrefix == "" || strings.HasPrefix(r.URL.Path, apiPrefix) {
			h.Set("Content-Security-Policy", apiCSP)
		} else {
			h.Set("Content-Security-Policy", staticCSP)
		}

		// HSTS only over HTTPS, direct or forwarded.
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
