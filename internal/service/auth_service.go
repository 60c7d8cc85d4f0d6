package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/auth"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/mapper"
	"github.com/straye-as/purchase-api/internal/notify"
	"github.com/straye-as/purchase-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPasswordResetNotFound is returned for unknown, used or expired reset links
var ErrPasswordResetNotFound = fmt.Errorf("password reset link %w or no longer valid", ErrNotFound)

// PasswordResetMailer queues reset link emails
type PasswordResetMailer interface {
	EnqueuePasswordReset(reset notify.PasswordResetEmail) bool
}

// AuthService opens and closes sessions and manages passwords
type AuthService struct {
	userRepo  *repository.UserRepository
	resetRepo *repository.PasswordResetRepository
	txManager repository.TransactionManager
	tokens    *auth.TokenService
	sessions  auth.SessionStore
	mailer    PasswordResetMailer
	resetTTL  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService creates a new AuthService instance
func NewAuthService(
	userRepo *repository.UserRepository,
	resetRepo *repository.PasswordResetRepository,
	txManager repository.TransactionManager,
	tokens *auth.TokenService,
	sessions auth.SessionStore,
	mailer PasswordResetMailer,
	resetTTL time.Duration,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		userRepo:  userRepo,
		resetRepo: resetRepo,
		txManager: txManager,
		tokens:    tokens,
		sessions:  sessions,
		mailer:    mailer,
		resetTTL:  resetTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// Login checks the credentials of an active user and opens a session
func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.logger.Info("login failed", zap.String("user_id", user.ID.String()))
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrUserInactive
	}

	token, session, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID.String()), zap.String("session_id", session.ID))

	return &domain.LoginResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
		User:      mapper.ToUserDTO(user),
	}, nil
}

// Logout revokes the session of the current request
func (s *AuthService) Logout(ctx context.Context) error {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return ErrUserContextRequired
	}
	if err := s.sessions.Revoke(ctx, userCtx.SessionID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	s.logger.Info("user logged out", zap.String("user_id", userCtx.UserID.String()))
	return nil
}

// Me returns the current user
func (s *AuthService) Me(ctx context.Context) (*domain.UserDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	user, err := s.userRepo.GetByID(ctx, userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	dto := mapper.ToUserDTO(user)
	return &dto, nil
}

// ChangePassword replaces the password of the current user after checking the current
// one. Every other session of the user is ended; the calling session stays open.
func (s *AuthService) ChangePassword(ctx context.Context, req *domain.ChangePasswordRequest) error {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return ErrUserContextRequired
	}
	user, err := s.userRepo.GetByID(ctx, userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		return domain.NewValidationError("currentPassword", "is incorrect")
	}
	if req.NewPassword == req.CurrentPassword {
		return domain.NewValidationError("newPassword", "must differ from the current password")
	}

	if err := s.setPassword(ctx, user.ID, req.NewPassword, nil); err != nil {
		return err
	}
	if err := s.sessions.RevokeUser(ctx, user.ID, userCtx.SessionID); err != nil {
		return fmt.Errorf("failed to revoke other sessions: %w", err)
	}

	s.logger.Info("password changed", zap.String("user_id", user.ID.String()))
	return nil
}

// RequestPasswordReset emails a single-use reset link to an active user. Unknown and
// deactivated addresses get no email and the same nil result.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.Active {
		s.logger.Info("password reset requested for deactivated user", zap.String("user_id", user.ID.String()))
		return nil
	}

	reset := &domain.PasswordReset{
		UserID:    user.ID,
		Token:     newToken(),
		ExpiresAt: s.now().Add(s.resetTTL),
	}
	if err := s.resetRepo.Create(ctx, reset); err != nil {
		return fmt.Errorf("failed to create password reset: %w", err)
	}

	queued := s.mailer.EnqueuePasswordReset(notify.PasswordResetEmail{
		To:        user.Email,
		Name:      user.Name,
		Token:     reset.Token,
		ExpiresAt: reset.ExpiresAt,
	})
	s.logger.Info("password reset requested",
		zap.String("user_id", user.ID.String()),
		zap.Bool("email_queued", queued))
	return nil
}

// ResetPassword sets a new password with a reset token and ends every session of the user
func (s *AuthService) ResetPassword(ctx context.Context, req *domain.ResetPasswordRequest) error {
	reset, err := s.resetRepo.GetByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPasswordResetNotFound
		}
		return fmt.Errorf("failed to get password reset: %w", err)
	}
	if !reset.Usable(s.now()) {
		return ErrPasswordResetNotFound
	}
	user, err := s.userRepo.GetByID(ctx, reset.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPasswordResetNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	if !user.Active {
		return ErrPasswordResetNotFound
	}

	if err := s.setPassword(ctx, user.ID, req.NewPassword, reset); err != nil {
		return err
	}
	if err := s.sessions.RevokeUser(ctx, user.ID, ""); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.logger.Info("password reset", zap.String("user_id", user.ID.String()))
	return nil
}

// setPassword stores a new hash and closes the open reset links of the user. A given
// reset is consumed first so a token can only be used once.
func (s *AuthService) setPassword(ctx context.Context, userID uuid.UUID, password string, consumed *domain.PasswordReset) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	now := s.now()
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if consumed != nil {
			ok, err := s.resetRepo.MarkUsed(txCtx, consumed.ID, now)
			if err != nil {
				return fmt.Errorf("failed to use password reset: %w", err)
			}
			if !ok {
				return ErrPasswordResetNotFound
			}
		}
		if err := s.userRepo.SetPasswordHash(txCtx, userID, hash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if err := s.resetRepo.InvalidateForUser(txCtx, userID, now); err != nil {
			return fmt.Errorf("failed to close password resets: %w", err)
		}
		return nil
	})
}
