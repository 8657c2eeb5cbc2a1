package server

import "net/http"

// securityHeaders hardens every response. Stored files are arbitrary user
// content, so the CSP sandboxes anything a browser might render and
// scripts in an uploaded HTML file never run with this origin.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; sandbox; frame-ancestors 'none'")

		next.ServeHTTP(w, r)
	})
}
