package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/auth"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/mapper"
	"github.com/straye-as/purchase-api/internal/policy"
	"github.com/straye-as/purchase-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserService handles account administration
type UserService struct {
	userRepo   *repository.UserRepository
	domainRepo *repository.AllowedDomainRepository
	logger     *zap.Logger
}

// NewUserService creates a new UserService instance
func NewUserService(userRepo *repository.UserRepository, domainRepo *repository.AllowedDomainRepository, logger *zap.Logger) *UserService {
	return &UserService{
		userRepo:   userRepo,
		domainRepo: domainRepo,
		logger:     logger,
	}
}

func requireUserAdmin(actor domain.Actor, action string) error {
	if !policy.CanManageUsers(actor) {
		return &domain.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: action}
	}
	return nil
}

// emailDomain returns the lower-cased part after the @
func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

// List returns all users ordered by name
func (s *UserService) List(ctx context.Context, actor domain.Actor) ([]domain.UserDTO, error) {
	if err := requireUserAdmin(actor, "list users"); err != nil {
		return nil, err
	}
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	dtos := make([]domain.UserDTO, len(users))
	for i := range users {
		dtos[i] = mapper.ToUserDTO(&users[i])
	}
	return dtos, nil
}

// GetByID returns a user. Admins may read anyone, others only themselves.
func (s *UserService) GetByID(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.UserDTO, error) {
	if actor.ID != id {
		if err := requireUserAdmin(actor, "view users"); err != nil {
			return nil, err
		}
	}
	user, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToUserDTO(user)
	return &dto, nil
}

// Create adds an active user. The email domain must be on the allow list.
func (s *UserService) Create(ctx context.Context, actor domain.Actor, req *domain.CreateUserRequest) (*domain.UserDTO, error) {
	if err := requireUserAdmin(actor, "create users"); err != nil {
		return nil, err
	}
	if !req.Role.IsValid() {
		return nil, domain.NewValidationError("role", "unknown role")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	allowed, err := s.domainRepo.Exists(ctx, emailDomain(email))
	if err != nil {
		return nil, fmt.Errorf("failed to check email domain: %w", err)
	}
	if !allowed {
		return nil, ErrDomainNotAllowed
	}
	exists, err := s.userRepo.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, ErrEmailExists
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		PasswordHash: hash,
		Role:         req.Role,
		Department:   strings.TrimSpace(req.Department),
		Active:       true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user created",
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(user.Role)),
		zap.String("created_by", actor.ID.String()))

	dto := mapper.ToUserDTO(user)
	return &dto, nil
}

// Update changes name, role and department. The password is never changed here.
func (s *UserService) Update(ctx context.Context, actor domain.Actor, id uuid.UUID, req *domain.UpdateUserRequest) (*domain.UserDTO, error) {
	if err := requireUserAdmin(actor, "update users"); err != nil {
		return nil, err
	}
	if !req.Role.IsValid() {
		return nil, domain.NewValidationError("role", "unknown role")
	}
	user, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	user.Name = strings.TrimSpace(req.Name)
	user.Role = req.Role
	user.Department = strings.TrimSpace(req.Department)
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.logger.Info("user updated", zap.String("user_id", id.String()), zap.String("role", string(user.Role)))

	return s.GetByID(ctx, actor, id)
}

// SetActive activates or deactivates an account
func (s *UserService) SetActive(ctx context.Context, actor domain.Actor, id uuid.UUID, active bool) (*domain.UserDTO, error) {
	if err := requireUserAdmin(actor, "change user status"); err != nil {
		return nil, err
	}
	if actor.ID == id && !active {
		return nil, ErrCannotModifySelf
	}
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.userRepo.SetActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("failed to update user status: %w", err)
	}

	s.logger.Info("user status changed", zap.String("user_id", id.String()), zap.Bool("active", active))

	return s.GetByID(ctx, actor, id)
}

// ToggleActive flips the active flag
func (s *UserService) ToggleActive(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.UserDTO, error) {
	if err := requireUserAdmin(actor, "change user status"); err != nil {
		return nil, err
	}
	user, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SetActive(ctx, actor, id, !user.Active)
}

// Delete removes the account permanently. Its requests and ledger entries remain.
func (s *UserService) Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if err := requireUserAdmin(actor, "delete users"); err != nil {
		return err
	}
	if actor.ID == id {
		return ErrCannotModifySelf
	}
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	if err := s.userRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.Info("user deleted", zap.String("user_id", id.String()), zap.String("deleted_by", actor.ID.String()))
	return nil
}

func (s *UserService) get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
