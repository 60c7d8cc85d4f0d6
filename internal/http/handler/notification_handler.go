package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/straye-as/purchase-api/internal/service"
	"go.uber.org/zap"
)

// NotificationHandler handles HTTP requests for notifications
type NotificationHandler struct {
	notificationService *service.NotificationService
	logger              *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler instance
func NewNotificationHandler(notificationService *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		logger:              logger,
	}
}

// List godoc
// @Summary List notifications
// @Description Get paginated list of notifications for the current user
// @Tags Notifications
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param unreadOnly query bool false "Filter to show only unread notifications" default(false)
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.NotificationDTO}
// @Failure 401 {object} domain.APIError
// @Failure 500 {object} domain.APIError
// @Security BearerAuth
// @Router /notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	unreadOnly := r.URL.Query().Get("unreadOnly") == "true"

	result, err := h.notificationService.GetForCurrentUser(r.Context(), page, pageSize, unreadOnly)
	if err != nil {
		respondServiceError(w, h.logger, err, "list notifications")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetUnreadCount godoc
// @Summary Get unread notification count
// @Tags Notifications
// @Produce json
// @Success 200 {object} domain.UnreadCountDTO
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Router /notifications/count [get]
func (h *NotificationHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.notificationService.GetUnreadCount(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "get unread count")
		return
	}

	respondJSON(w, http.StatusOK, count)
}

// GetByID godoc
// @Summary Get notification by ID
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID" format(uuid)
// @Success 200 {object} domain.NotificationDTO
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Router /notifications/{id} [get]
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	notification, err := h.notificationService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotificationNotOwned) {
			respondWithError(w, http.StatusForbidden, "You do not have access to this notification")
			return
		}
		respondServiceError(w, h.logger, err, "get notification")
		return
	}

	respondJSON(w, http.StatusOK, notification)
}

// MarkAsRead godoc
// @Summary Mark notification as read
// @Tags Notifications
// @Param id path string true "Notification ID" format(uuid)
// @Success 204 "No Content"
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Router /notifications/{id}/read [put]
func (h *NotificationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	if err := h.notificationService.MarkAsRead(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrNotificationNotOwned) {
			respondWithError(w, http.StatusForbidden, "You do not have access to this notification")
			return
		}
		respondServiceError(w, h.logger, err, "mark notification as read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkAllAsRead godoc
// @Summary Mark all notifications as read
// @Tags Notifications
// @Success 204 "No Content"
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Router /notifications/read-all [put]
func (h *NotificationHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notificationService.MarkAllAsReadForUser(r.Context()); err != nil {
		respondServiceError(w, h.logger, err, "mark all notifications as read")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
