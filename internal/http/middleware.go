package http

import (
	"net/http"
	"strings"
)

const (
	apiPolicy     = "default-src 'none'; frame-ancestors 'none'"
	swaggerPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:"
	hstsValue     = "max-age=63072000; includeSubDomains"
)

// SecurityHeaders sets response headers for every route. API responses carry
// tokens and are never cached; the swagger UI gets a policy that lets it load
// its own assets. HSTS is only sent when hsts is true.
func SecurityHeaders(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			if hsts {
				h.Set("Strict-Transport-Security", hstsValue)
			}

			if strings.HasPrefix(r.URL.Path, "/swagger/") {
				h.Set("Content-Security-Policy", swaggerPolicy)
			} else {
				h.Set("Content-Security-Policy", apiPolicy)
				h.Set("Cache-Control", "no-store")
			}

			next.ServeHTTP(w, r)
		})
	}
}
