package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/straye-as/purchase-api/internal/config"
)

// swaggerCSP lets the bundled Swagger UI run its inline bootstrap script and styles
const swaggerCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:"

// SecurityHeaders returns a middleware that adds security headers to responses.
// Responses carry purchase data and tokens, so none of them may be cached unless
// the handler sets its own Cache-Control. HSTS is only sent over HTTPS, directly or
// behind a proxy that sets X-Forwarded-Proto.
func SecurityHeaders(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	static := map[string]string{}
	if cfg.ContentTypeNosniff {
		static["X-Content-Type-Options"] = "nosniff"
	}
	if cfg.FrameOptions != "" {
		static["X-Frame-Options"] = cfg.FrameOptions
	}
	if cfg.XSSProtection != "" {
		static["X-XSS-Protection"] = cfg.XSSProtection
	}
	if cfg.ReferrerPolicy != "" {
		static["Referrer-Policy"] = cfg.ReferrerPolicy
	}
	if cfg.PermissionsPolicy != "" {
		static["Permissions-Policy"] = cfg.PermissionsPolicy
	}

	hsts := ""
	if cfg.EnableHSTS {
		hsts = fmt.Sprintf("max-age=%d", cfg.HSTSMaxAge)
		if cfg.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
		if cfg.HSTSPreload {
			hsts += "; preload"
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for name, value := range static {
				h.Set(name, value)
			}

			switch {
			case strings.HasPrefix(r.URL.Path, "/swagger/"):
				h.Set("Content-Security-Policy", swaggerCSP)
			case cfg.ContentSecurityPolicy != "":
				h.Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
			}

			if hsts != "" && isHTTPS(r) {
				h.Set("Strict-Transport-Security", hsts)
			}
			h.Set("Cache-Control", "no-store")

			h.Del("X-Powered-By")
			h.Del("Server")

			next.ServeHTTP(w, r)
		})
	}
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
