package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/auth"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/mapper"
	"github.com/straye-as/purchase-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvitationNotFound is returned when no usable invitation matches
	ErrInvitationNotFound = fmt.Errorf("invitation %w or no longer valid", ErrNotFound)

	// ErrPendingInvitationExists is returned when the email already has an open invitation
	ErrPendingInvitationExists = fmt.Errorf("a pending invitation for this email %w", ErrConflict)
)

// InvitationService lets admins invite users who then register themselves
type InvitationService struct {
	invitationRepo *repository.InvitationRepository
	userRepo       *repository.UserRepository
	txManager      repository.TransactionManager
	logger         *zap.Logger
	now            func() time.Time
}

// NewInvitationService creates a new InvitationService instance
func NewInvitationService(
	invitationRepo *repository.InvitationRepository,
	userRepo *repository.UserRepository,
	txManager repository.TransactionManager,
	logger *zap.Logger,
) *InvitationService {
	return &InvitationService{
		invitationRepo: invitationRepo,
		userRepo:       userRepo,
		txManager:      txManager,
		logger:         logger,
		now:            time.Now,
	}
}

// WithClock replaces the time source
func (s *InvitationService) WithClock(now func() time.Time) *InvitationService {
	s.now = now
	return s
}

// newToken returns 32 random hex characters for single-use links
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create invites an email address. expiryDays of 0 means the invitation never expires.
func (s *InvitationService) Create(ctx context.Context, actor domain.Actor, req *domain.CreateInvitationRequest) (*domain.InvitationDTO, error) {
	if err := requireUserAdmin(actor, "invite users"); err != nil {
		return nil, err
	}
	if !req.Role.IsValid() {
		return nil, domain.NewValidationError("role", "unknown role")
	}
	if req.ExpiryDays < 0 {
		return nil, domain.NewValidationError("expiryDays", "must not be negative")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	exists, err := s.userRepo.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, ErrEmailExists
	}
	pending, err := s.invitationRepo.HasPending(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check invitations: %w", err)
	}
	if pending {
		return nil, ErrPendingInvitationExists
	}

	inv := &domain.Invitation{
		Token:       newToken(),
		Email:       email,
		Role:        req.Role,
		Department:  strings.TrimSpace(req.Department),
		Status:      domain.InvitationPending,
		CreatedByID: actor.ID,
	}
	if req.ExpiryDays > 0 {
		expires := s.now().AddDate(0, 0, req.ExpiryDays)
		inv.ExpiresAt = &expires
	}
	if err := s.invitationRepo.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	s.logger.Info("invitation created",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("role", string(inv.Role)),
		zap.String("created_by", actor.ID.String()))

	dto := mapper.ToInvitationDTO(inv, true)
	return &dto, nil
}

// List returns invitations, optionally filtered by status
func (s *InvitationService) List(ctx context.Context, actor domain.Actor, status *domain.InvitationStatus) ([]domain.InvitationDTO, error) {
	if err := requireUserAdmin(actor, "list invitations"); err != nil {
		return nil, err
	}
	if _, err := s.ExpireStale(ctx); err != nil {
		return nil, err
	}
	invitations, err := s.invitationRepo.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	dtos := make([]domain.InvitationDTO, len(invitations))
	for i := range invitations {
		dtos[i] = mapper.ToInvitationDTO(&invitations[i], false)
	}
	return dtos, nil
}

// GetByToken returns a pending invitation. Stale invitations are expired first.
func (s *InvitationService) GetByToken(ctx context.Context, token string) (*domain.InvitationDTO, error) {
	inv, err := s.pending(ctx, token)
	if err != nil {
		return nil, err
	}
	dto := mapper.ToInvitationDTO(inv, false)
	return &dto, nil
}

// Accept creates the invited user and marks the invitation used
func (s *InvitationService) Accept(ctx context.Context, token string, req *domain.AcceptInvitationRequest) (*domain.UserDTO, error) {
	inv, err := s.pending(ctx, token)
	if err != nil {
		return nil, err
	}
	exists, err := s.userRepo.EmailExists(ctx, inv.Email)
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
		Email:        inv.Email,
		PasswordHash: hash,
		Role:         inv.Role,
		Department:   inv.Department,
		Active:       true,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.userRepo.Create(txCtx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		if err := s.invitationRepo.MarkAccepted(txCtx, inv.ID, user.ID, s.now()); err != nil {
			return fmt.Errorf("failed to mark invitation accepted: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invitation accepted",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("user_id", user.ID.String()))

	dto := mapper.ToUserDTO(user)
	return &dto, nil
}

// Cancel withdraws a pending invitation
func (s *InvitationService) Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if err := requireUserAdmin(actor, "cancel invitations"); err != nil {
		return err
	}
	inv, err := s.invitationRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		return fmt.Errorf("failed to get invitation: %w", err)
	}
	if inv.Status != domain.InvitationPending {
		return ErrInvitationNotFound
	}
	if err := s.invitationRepo.SetStatus(ctx, id, domain.InvitationCancelled); err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}
	s.logger.Info("invitation cancelled", zap.String("invitation_id", id.String()))
	return nil
}

// ExpireStale marks pending invitations past their expiry as expired
func (s *InvitationService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.invitationRepo.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired stale invitations", zap.Int64("count", n))
	}
	return n, nil
}

func (s *InvitationService) pending(ctx context.Context, token string) (*domain.Invitation, error) {
	if _, err := s.ExpireStale(ctx); err != nil {
		return nil, err
	}
	inv, err := s.invitationRepo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if inv.Status != domain.InvitationPending || inv.IsExpired(s.now()) {
		return nil, ErrInvitationNotFound
	}
	return inv, nil
}
