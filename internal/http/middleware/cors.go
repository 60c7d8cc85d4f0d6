package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
	"github.com/straye-as/purchase-api/internal/config"
	"go.uber.org/zap"
)

// downloadHeaders must be readable by the web client: export filenames, the archive
// path of a stored export and the request id shown on error pages
var downloadHeaders = []string{"Content-Disposition", "X-Archive-Path", "X-Request-ID"}

// OriginPolicy decides which browser origins may call the API and open the /ws
// stream. Without configured origins every origin is allowed outside production
// environments and none is allowed in them.
func OriginPolicy(cfg *config.CORSConfig, environment string, logger *zap.Logger) func(origin string) bool {
	anyOrigin := func(origin string) bool { return origin != "" }

	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			if !isDevelopment(environment) {
				logger.Warn("CORS configured with wildcard origin in non-development environment",
					zap.String("environment", environment))
			}
			return anyOrigin
		}
	}

	if len(cfg.AllowedOrigins) > 0 {
		logger.Info("CORS configured with explicit origins", zap.Strings("origins", cfg.AllowedOrigins))
		allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
		for _, origin := range cfg.AllowedOrigins {
			allowed[strings.ToLower(strings.TrimSuffix(origin, "/"))] = struct{}{}
		}
		return func(origin string) bool {
			_, ok := allowed[strings.ToLower(origin)]
			return ok
		}
	}

	if isDevelopment(environment) || environment == "" {
		logger.Info("CORS configured to allow all origins in development mode")
		return anyOrigin
	}
	logger.Warn("CORS configured with no allowed origins - all cross-origin requests will be denied",
		zap.String("environment", environment))
	return func(string) bool { return false }
}

// CORS returns a CORS middleware configured from the application config
func CORS(cfg *config.CORSConfig, environment string, logger *zap.Logger) func(http.Handler) http.Handler {
	allow := OriginPolicy(cfg, environment, logger)
	// An empty AllowedOrigins list means "*" to go-chi/cors, so origins are always decided by the func
	return cors.Handler(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return allow(origin) },
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   withHeaders(cfg.ExposedHeaders, downloadHeaders...),
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})
}

func isDevelopment(environment string) bool {
	return environment == "development" || environment == "local"
}

// withHeaders appends the extra headers that are not listed yet
func withHeaders(headers []string, extra ...string) []string {
	out := append([]string(nil), headers...)
	for _, h := range extra {
		found := false
		for _, existing := range out {
			if strings.EqualFold(existing, h) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, h)
		}
	}
	return out
}
