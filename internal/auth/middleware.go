package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"go.uber.org/zap"
)

// UserLookup loads the stored user behind a session
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// Middleware handles authentication for HTTP requests
type Middleware struct {
	tokens   *TokenService
	sessions SessionStore
	users    UserLookup
	logger   *zap.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(tokens *TokenService, sessions SessionStore, users UserLookup, logger *zap.Logger) *Middleware {
	return &Middleware{
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		logger:   logger,
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on a
// websocket upgrade, so the "token" query parameter is accepted there.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			if t := r.URL.Query().Get("token"); t != "" {
				return t, true
			}
		}
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Authenticate validates the session token, checks the session registry and reloads
// the user so that role and active flag always come from the store.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		token, ok := bearerToken(r)
		if !ok {
			http.Error(w, "Unauthorized: missing or invalid authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.Parse(token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		subject, err := claims.UserID()
		if err != nil {
			http.Error(w, "Unauthorized: invalid subject", http.StatusUnauthorized)
			return
		}

		owner, err := m.sessions.Lookup(r.Context(), claims.ID)
		if err != nil || owner != subject {
			http.Error(w, "Unauthorized: session expired or revoked", http.StatusUnauthorized)
			return
		}

		user, err := m.users.GetByID(r.Context(), subject)
		if err != nil {
			http.Error(w, "Unauthorized: unknown user", http.StatusUnauthorized)
			return
		}
		if !user.Active {
			http.Error(w, "Unauthorized: account is deactivated", http.StatusUnauthorized)
			return
		}

		userCtx := NewUserContext(user, claims.ID)

		m.logger.Debug("request authenticated",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("user_id", userCtx.UserID.String()),
			zap.String("role", string(userCtx.Role)),
			zap.Duration("auth_duration", time.Since(start)),
		)

		next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), userCtx)))
	})
}

// RequireRole middleware ensures user has one of the roles
func (m *Middleware) RequireRole(roles ...domain.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userCtx, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "Forbidden: no user context", http.StatusForbidden)
				return
			}

			if !userCtx.HasAnyRole(roles...) {
				http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
