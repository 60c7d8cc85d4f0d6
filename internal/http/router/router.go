package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/straye-as/purchase-api/internal/auth"
	"github.com/straye-as/purchase-api/internal/config"
	"github.com/straye-as/purchase-api/internal/database"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/http/handler"
	"github.com/straye-as/purchase-api/internal/http/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "github.com/straye-as/purchase-api/docs" // Import generated swagger docs
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Auth          *handler.AuthHandler
	Requests      *handler.RequestHandler
	Vendors       *handler.VendorHandler
	Notifications *handler.NotificationHandler
	Reports       *handler.ReportHandler
	Users         *handler.UserHandler
	Invitations   *handler.InvitationHandler
	Domains       *handler.AllowedDomainHandler
	WebSocket     *handler.WebSocketHandler
}

type Router struct {
	cfg            *config.Config
	logger         *zap.Logger
	db             *gorm.DB
	authMiddleware *auth.Middleware
	rateLimiter    *middleware.RateLimiter
	h              Handlers
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	authMiddleware *auth.Middleware,
	rateLimiter *middleware.RateLimiter,
	handlers Handlers,
) *Router {
	return &Router{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		authMiddleware: authMiddleware,
		rateLimiter:    rateLimiter,
		h:              handlers,
	}
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(rt.logger))
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.SecurityHeaders(&rt.cfg.Security))
	r.Use(middleware.CORS(&rt.cfg.CORS, rt.cfg.App.Environment, rt.logger))
	r.Use(rt.rateLimiter.LimitByIP) // Apply IP-based rate limiting globally

	// Health check (basic liveness)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Database health check (readiness with detailed stats)
	r.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		stats, err := database.HealthCheckWithStats(rt.db)
		if err != nil {
			rt.logger.Error("database health check failed", zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":  "unhealthy",
				"error":   err.Error(),
				"service": "database",
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"service": "database",
			"stats": map[string]interface{}{
				"max_open_connections": stats.MaxOpenConnections,
				"open_connections":     stats.OpenConnections,
				"in_use":               stats.InUse,
				"idle":                 stats.Idle,
				"wait_count":           stats.WaitCount,
				"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
				"max_idle_closed":      stats.MaxIdleClosed,
				"max_lifetime_closed":  stats.MaxLifetimeClosed,
			},
		})
	})

	// Combined readiness check (checks all dependencies)
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]interface{})
		allHealthy := true

		// Check database
		if err := database.HealthCheck(rt.db); err != nil {
			rt.logger.Error("database health check failed", zap.Error(err))
			checks["database"] = map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			}
			allHealthy = false
		} else {
			checks["database"] = map[string]interface{}{
				"status": "healthy",
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if allHealthy {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "healthy",
				"checks": checks,
			})
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "unhealthy",
				"checks": checks,
			})
		}
	})

	// Swagger documentation
	if rt.cfg.Server.EnableSwagger {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Post("/auth/login", rt.h.Auth.Login)
		r.Post("/auth/password/forgot", rt.h.Auth.ForgotPassword)
		r.Post("/auth/password/reset", rt.h.Auth.ResetPassword)
		r.Get("/invitations/token/{token}", rt.h.Invitations.GetByToken)
		r.Post("/invitations/token/{token}/accept", rt.h.Invitations.Accept)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(rt.authMiddleware.Authenticate)
			r.Use(middleware.CaptureIdentity)
			r.Use(rt.rateLimiter.Limit)

			// Auth
			r.Get("/auth/me", rt.h.Auth.Me)
			r.Post("/auth/logout", rt.h.Auth.Logout)
			r.Put("/auth/password", rt.h.Auth.ChangePassword)

			r.Group(func(r chi.Router) {
				if timeout := rt.cfg.Server.RequestTimeoutDuration(); timeout > 0 {
					r.Use(chimw.Timeout(timeout))
				}

				// Purchase requests
				r.Route("/requests", func(r chi.Router) {
					r.Get("/", rt.h.Requests.List)
					r.Post("/", rt.h.Requests.Create)
					r.Get("/{id}", rt.h.Requests.GetByID)
					r.Put("/{id}", rt.h.Requests.Update)
					r.Post("/{id}/decision", rt.h.Requests.Decide)
					r.Post("/{id}/purchase", rt.h.Requests.MarkPurchased)
					r.Get("/{id}/history", rt.h.Requests.History)
				})

				r.Get("/vendors", rt.h.Vendors.List)
				r.Post("/vendors", rt.h.Vendors.Create)

				// Notifications
				r.Route("/notifications", func(r chi.Router) {
					r.Get("/", rt.h.Notifications.List)
					r.Get("/count", rt.h.Notifications.GetUnreadCount)
					r.Put("/read-all", rt.h.Notifications.MarkAllAsRead)
					r.Get("/{id}", rt.h.Notifications.GetByID)
					r.Put("/{id}/read", rt.h.Notifications.MarkAsRead)
				})

				// Reporting
				r.Get("/stats", rt.h.Reports.Stats)
				r.Get("/reports", rt.h.Reports.Report)
				r.Get("/reports/export", rt.h.Reports.Export)
				r.Get("/reports/archive/*", rt.h.Reports.ArchivedExport)

				// Administration
				r.Route("/users", func(r chi.Router) {
					r.Get("/", rt.h.Users.List)
					r.Post("/", rt.h.Users.Create)
					r.Get("/{id}", rt.h.Users.GetByID)
					r.Put("/{id}", rt.h.Users.Update)
					r.Post("/{id}/toggle-active", rt.h.Users.ToggleActive)
					r.Delete("/{id}", rt.h.Users.Delete)
				})
				r.Route("/invitations", func(r chi.Router) {
					r.Use(rt.authMiddleware.RequireRole(domain.RoleAdmin))
					r.Get("/", rt.h.Invitations.List)
					r.Post("/", rt.h.Invitations.Create)
					r.Delete("/{id}", rt.h.Invitations.Cancel)
				})
				r.Route("/allowed-domains", func(r chi.Router) {
					r.Use(rt.authMiddleware.RequireRole(domain.RoleAdmin))
					r.Get("/", rt.h.Domains.List)
					r.Post("/", rt.h.Domains.Create)
					r.Delete("/{id}", rt.h.Domains.Delete)
				})
			})

			// Live notification stream
			r.Get("/ws", rt.h.WebSocket.Connect)
		})
	})

	return r
}
