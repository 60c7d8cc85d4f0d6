package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
)

// UserContext holds the authenticated user of a request. It is created by the
// middleware after the session is validated and discarded with the request.
type UserContext struct {
	UserID      uuid.UUID
	DisplayName string
	Email       string
	Role        domain.UserRole
	Department  string
	SessionID   string
}

type contextKey string

const userContextKey contextKey = "userContext"

// NewUserContext builds the request identity from a stored user
func NewUserContext(user *domain.User, sessionID string) *UserContext {
	return &UserContext{
		UserID:      user.ID,
		DisplayName: user.Name,
		Email:       user.Email,
		Role:        user.Role,
		Department:  user.Department,
		SessionID:   sessionID,
	}
}

// WithUserContext adds user context to the context
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// FromContext extracts user context from the context
func FromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok
}

// HasAnyRole checks if user has any of the specified roles
func (u *UserContext) HasAnyRole(roles ...domain.UserRole) bool {
	for _, role := range roles {
		if u.Role == role {
			return true
		}
	}
	return false
}

// Actor returns the explicit identity passed to core operations
func (u *UserContext) Actor() domain.Actor {
	return domain.Actor{
		ID:         u.UserID,
		Name:       u.DisplayName,
		Email:      u.Email,
		Role:       u.Role,
		Department: u.Department,
	}
}
