package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/mapper"
	"github.com/straye-as/purchase-api/internal/notify"
	"github.com/straye-as/purchase-api/internal/repository"
	"go.uber.org/zap"
)

// EmailQueue accepts outbound emails without blocking
type EmailQueue interface {
	Enqueue(email notify.Email) bool
}

// Publisher pushes events to a user's live connections
type Publisher interface {
	Publish(userID uuid.UUID, eventType string, data interface{})
}

// LifecycleEvent is one transition the dispatcher reports
type LifecycleEvent struct {
	Type    domain.NotificationType
	Request *domain.PurchaseRequest
	Owner   *domain.User
	Actor   domain.Actor
	Comment string
}

// Dispatch holds the notification records and email addressing for one event
type Dispatch struct {
	Event         LifecycleEvent
	Notifications []domain.Notification
	To            []string
	CC            []string
}

// Dispatcher turns lifecycle events into notification records and one email per event
type Dispatcher struct {
	userRepo         *repository.UserRepository
	notificationRepo *repository.NotificationRepository
	emails           EmailQueue
	publisher        Publisher
	logger           *zap.Logger
}

// NewDispatcher creates a dispatcher. publisher may be nil.
func NewDispatcher(
	userRepo *repository.UserRepository,
	notificationRepo *repository.NotificationRepository,
	emails EmailQueue,
	publisher Publisher,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		userRepo:         userRepo,
		notificationRepo: notificationRepo,
		emails:           emails,
		publisher:        publisher,
		logger:           logger,
	}
}

// Prepare resolves the recipients of an event and builds one record per recipient.
// Nothing is written.
func (d *Dispatcher) Prepare(ctx context.Context, ev LifecycleEvent) (*Dispatch, error) {
	recipients, cc, err := d.recipients(ctx, ev)
	if err != nil {
		return nil, err
	}

	subject, message := notificationText(ev)
	requestID := ev.Request.ID
	dispatch := &Dispatch{Event: ev}
	for _, u := range recipients {
		dispatch.Notifications = append(dispatch.Notifications, domain.Notification{
			RecipientID: u.ID,
			Type:        ev.Type,
			Subject:     subject,
			Message:     message,
			RequestID:   &requestID,
		})
		dispatch.To = append(dispatch.To, u.Email)
	}
	dispatch.CC = cc
	return dispatch, nil
}

func (d *Dispatcher) recipients(ctx context.Context, ev LifecycleEvent) ([]domain.User, []string, error) {
	var users []domain.User
	var cc []string

	switch ev.Type {
	case domain.NotificationSubmission:
		approvers, err := d.userRepo.ListActiveByRoles(ctx, domain.RoleApprover, domain.RoleAdmin)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list approvers: %w", err)
		}
		users = approvers
		if ev.Actor.Email != "" && !containsUser(approvers, ev.Actor.ID) {
			cc = append(cc, ev.Actor.Email)
		}
	case domain.NotificationApproval:
		if ev.Owner != nil {
			users = append(users, *ev.Owner)
		}
		buyers, err := d.userRepo.ListActiveByRoles(ctx, domain.RoleBuyer)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list buyers: %w", err)
		}
		users = append(users, buyers...)
	case domain.NotificationRejection, domain.NotificationMoreInfoRequested, domain.NotificationPurchased:
		if ev.Owner != nil {
			users = append(users, *ev.Owner)
		}
	default:
		return nil, nil, fmt.Errorf("unknown notification type: %s", ev.Type)
	}

	return uniqueUsers(users), cc, nil
}

func containsUser(users []domain.User, id uuid.UUID) bool {
	for _, u := range users {
		if u.ID == id {
			return true
		}
	}
	return false
}

func uniqueUsers(users []domain.User) []domain.User {
	seen := make(map[uuid.UUID]struct{}, len(users))
	out := users[:0]
	for _, u := range users {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out
}

func notificationText(ev LifecycleEvent) (string, string) {
	req := ev.Request
	amount := "$" + req.Amount.StringFixed(2)
	switch ev.Type {
	case domain.NotificationSubmission:
		return fmt.Sprintf("New request from %s", ev.Actor.Name),
			fmt.Sprintf("%s submitted %q (%s) for approval", ev.Actor.Name, req.Description, amount)
	case domain.NotificationApproval:
		return "Request approved",
			fmt.Sprintf("Request %q (%s) was approved by %s", req.Description, amount, ev.Actor.Name)
	case domain.NotificationRejection:
		return "Request rejected",
			fmt.Sprintf("Request %q was rejected by %s: %s", req.Description, ev.Actor.Name, ev.Comment)
	case domain.NotificationMoreInfoRequested:
		return "More information needed",
			fmt.Sprintf("%s needs more information on %q: %s", ev.Actor.Name, req.Description, ev.Comment)
	case domain.NotificationPurchased:
		return "Request purchased",
			fmt.Sprintf("Your request %q was purchased", req.Description)
	}
	return string(ev.Type), req.Description
}

// Persist writes the notification records. It joins the caller's transaction.
func (d *Dispatcher) Persist(ctx context.Context, dispatch *Dispatch) error {
	return d.notificationRepo.CreateMany(ctx, dispatch.Notifications)
}

// Deliver runs after the transition has committed: it pushes the records to live
// connections and enqueues the email. req is the reloaded request. Nothing here
// can fail the transition; it returns false when the email could not be queued.
func (d *Dispatcher) Deliver(dispatch *Dispatch, req *domain.PurchaseRequest) bool {
	if d.publisher != nil {
		for i := range dispatch.Notifications {
			n := &dispatch.Notifications[i]
			d.publisher.Publish(n.RecipientID, "notification", mapper.ToNotificationDTO(n))
		}
	}

	if len(dispatch.To) == 0 {
		d.logger.Info("no email recipients for event",
			zap.String("event", string(dispatch.Event.Type)),
			zap.String("request_id", req.ID.String()))
		return true
	}

	email := notify.Email{
		Type:    dispatch.Event.Type,
		Request: notify.SnapshotOf(req),
		Comment: dispatch.Event.Comment,
		To:      dispatch.To,
		CC:      dispatch.CC,
	}
	if dispatch.Event.Owner != nil {
		email.RequesterName = dispatch.Event.Owner.Name
	}
	if dispatch.Event.Type != domain.NotificationSubmission {
		email.ApproverName = dispatch.Event.Actor.Name
	}
	return d.emails.Enqueue(email)
}
