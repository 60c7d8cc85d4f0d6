package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/auth"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/mapper"
	"github.com/straye-as/purchase-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotificationNotFound is returned when a notification is not found
var ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)

// ErrNotificationNotOwned is returned when trying to access a notification owned by another user
var ErrNotificationNotOwned = errors.New("notification does not belong to current user")

// ErrUserContextRequired is returned when user context is not available
var ErrUserContextRequired = errors.New("user context required")

// NotificationService serves the in-app notification inbox of the current user.
// Records are created by the Dispatcher; only the read flag changes afterwards.
type NotificationService struct {
	notificationRepo *repository.NotificationRepository
	logger           *zap.Logger
}

// NewNotificationService creates a new NotificationService instance
func NewNotificationService(
	notificationRepo *repository.NotificationRepository,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		logger:           logger,
	}
}

// GetForCurrentUser returns notifications for the current user with pagination
func (s *NotificationService) GetForCurrentUser(
	ctx context.Context,
	page int,
	pageSize int,
	unreadOnly bool,
) (*domain.PaginatedResponse, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	// Clamp page size
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	if page < 1 {
		page = 1
	}

	notifications, total, err := s.notificationRepo.ListByRecipient(ctx, userCtx.UserID, page, pageSize, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	dtos := make([]domain.NotificationDTO, len(notifications))
	for i := range notifications {
		dtos[i] = mapper.ToNotificationDTO(&notifications[i])
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &domain.PaginatedResponse{
		Data:       dtos,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// GetByID returns a notification by ID, verifying ownership
func (s *NotificationService) GetByID(ctx context.Context, id uuid.UUID) (*domain.NotificationDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	notification, err := s.getOwned(ctx, id, userCtx.UserID)
	if err != nil {
		return nil, err
	}

	dto := mapper.ToNotificationDTO(notification)
	return &dto, nil
}

// MarkAsRead marks a notification as read
func (s *NotificationService) MarkAsRead(ctx context.Context, notificationID uuid.UUID) error {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return ErrUserContextRequired
	}

	notification, err := s.getOwned(ctx, notificationID, userCtx.UserID)
	if err != nil {
		return err
	}

	// Already read, nothing to do
	if notification.Read {
		return nil
	}

	if err := s.notificationRepo.MarkAsRead(ctx, notificationID); err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}

	s.logger.Debug("notification marked as read",
		zap.String("notificationID", notificationID.String()),
		zap.String("userID", userCtx.UserID.String()),
	)

	return nil
}

// MarkAllAsReadForUser marks all notifications for the current user as read
func (s *NotificationService) MarkAllAsReadForUser(ctx context.Context) error {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return ErrUserContextRequired
	}

	if err := s.notificationRepo.MarkAllAsRead(ctx, userCtx.UserID); err != nil {
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}

	s.logger.Info("all notifications marked as read",
		zap.String("userID", userCtx.UserID.String()),
	)

	return nil
}

// GetUnreadCount returns the count of unread notifications for the current user
func (s *NotificationService) GetUnreadCount(ctx context.Context) (*domain.UnreadCountDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}

	count, err := s.notificationRepo.CountUnread(ctx, userCtx.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return &domain.UnreadCountDTO{Count: count}, nil
}

func (s *NotificationService) getOwned(ctx context.Context, id, userID uuid.UUID) (*domain.Notification, error) {
	notification, err := s.notificationRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	if notification.RecipientID != userID {
		return nil, ErrNotificationNotOwned
	}
	return notification, nil
}
