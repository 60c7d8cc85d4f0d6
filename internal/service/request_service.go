package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/logger"
	"github.com/straye-as/purchase-api/internal/mapper"
	"github.com/straye-as/purchase-api/internal/policy"
	"github.com/straye-as/purchase-api/internal/pricing"
	"github.com/straye-as/purchase-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Write steps of a lifecycle operation, in the order they are applied
const (
	stepRequest       = "request"
	stepStatus        = "status"
	stepItems         = "items"
	stepHistory       = "history"
	stepNotifications = "notifications"
	stepReload        = "reload"
)

const emailNotQueuedNote = "The request was saved but the email notification could not be queued."

// RequestService owns the purchase request lifecycle
type RequestService struct {
	requestRepo *repository.RequestRepository
	itemRepo    *repository.RequestItemRepository
	vendorRepo  *repository.VendorRepository
	userRepo    *repository.UserRepository
	ledger      *Ledger
	dispatcher  *Dispatcher
	txManager   repository.TransactionManager
	logger      *zap.Logger
}

// NewRequestService creates a new RequestService instance
func NewRequestService(
	requestRepo *repository.RequestRepository,
	itemRepo *repository.RequestItemRepository,
	vendorRepo *repository.VendorRepository,
	userRepo *repository.UserRepository,
	ledger *Ledger,
	dispatcher *Dispatcher,
	txManager repository.TransactionManager,
	logger *zap.Logger,
) *RequestService {
	return &RequestService{
		requestRepo: requestRepo,
		itemRepo:    itemRepo,
		vendorRepo:  vendorRepo,
		userRepo:    userRepo,
		ledger:      ledger,
		dispatcher:  dispatcher,
		txManager:   txManager,
		logger:      logger,
	}
}

// writePlan applies the steps of one operation and records which of them are durable.
// Under an atomic runner nothing is durable until commit, so a failure reports no
// committed steps.
type writePlan struct {
	op     string
	atomic bool
	done   []string
}

func (s *RequestService) newPlan(op string) *writePlan {
	return &writePlan{op: op, atomic: s.txManager.Atomic()}
}

func (p *writePlan) step(name string, fn func() error) error {
	if err := fn(); err != nil {
		storeErr := &domain.StoreError{Op: p.op, Step: name, Err: err}
		if !p.atomic {
			storeErr.Committed = append([]string(nil), p.done...)
		}
		return storeErr
	}
	p.done = append(p.done, name)
	return nil
}

// run executes the plan's steps through the transaction manager
func (s *RequestService) run(ctx context.Context, plan *writePlan, fn func(txCtx context.Context) error) error {
	err := s.txManager.RunInTx(ctx, fn)
	if err == nil {
		return nil
	}
	var storeErr *domain.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	// The transaction failed to commit after every step succeeded
	committed := []string(nil)
	if !plan.atomic {
		committed = append(committed, plan.done...)
	}
	return &domain.StoreError{Op: plan.op, Step: "commit", Committed: committed, Err: err}
}

// Submit creates a request in state open and informs the approvers
func (s *RequestService) Submit(ctx context.Context, actor domain.Actor, input domain.SubmitRequestInput) (*domain.PurchaseRequestDTO, error) {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, domain.NewValidationError("description", "description is required")
	}
	if len(input.Items) == 0 {
		return nil, domain.NewValidationError("items", "at least one item is required")
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	switch priority {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh:
	default:
		return nil, domain.NewValidationError("priority", "priority must be low, medium or high")
	}
	items, err := s.buildItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	req := &domain.PurchaseRequest{
		UserID:      actor.ID,
		Description: description,
		Department:  actor.Department,
		Amount:      pricing.AggregateTotal(items),
		Status:      domain.StatusOpen,
		Priority:    priority,
		Notes:       strings.TrimSpace(input.Notes),
	}
	// Assigned up front so the notification records can reference the request
	req.ID = uuid.New()

	owner, err := s.userRepo.GetByID(ctx, actor.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.StoreError{Op: "submit", Step: "load owner", Err: err}
	}
	dispatch, err := s.dispatcher.Prepare(ctx, LifecycleEvent{
		Type:    domain.NotificationSubmission,
		Request: req,
		Owner:   owner,
		Actor:   actor,
	})
	if err != nil {
		return nil, &domain.StoreError{Op: "submit", Step: "resolve recipients", Err: err}
	}

	plan := s.newPlan("submit")
	err = s.run(ctx, plan, func(txCtx context.Context) error {
		if err := plan.step(stepRequest, func() error { return s.requestRepo.Create(txCtx, req) }); err != nil {
			return err
		}
		if err := plan.step(stepItems, func() error { return s.itemRepo.CreateForRequest(txCtx, req.ID, items) }); err != nil {
			return err
		}
		return plan.step(stepNotifications, func() error { return s.dispatcher.Persist(txCtx, dispatch) })
	})
	if err != nil {
		return nil, s.logStoreError(actor, err)
	}

	logger.WithActor(s.logger, actor).Info("purchase request submitted",
		zap.String("request_id", req.ID.String()),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.Int("items", len(items)))

	return s.finish(ctx, actor, plan, req.ID, dispatch)
}

// Edit replaces the description and items of a request. An edit of a pending request
// sends it back to open and records the transition.
func (s *RequestService) Edit(ctx context.Context, actor domain.Actor, requestID uuid.UUID, input domain.EditRequestInput) (*domain.PurchaseRequestDTO, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !policy.CanEdit(actor, req) {
		return nil, &domain.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: "edit this request"}
	}

	comment := strings.TrimSpace(input.EditComment)
	fromPending := req.Status == domain.StatusPending
	isReviewer := actor.HasRole(domain.RoleApprover, domain.RoleAdmin)
	if fromPending && !isReviewer && comment == "" {
		return nil, domain.NewValidationError("editComment", "a comment describing the change is required")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, domain.NewValidationError("description", "description is required")
	}
	if len(input.Items) == 0 {
		return nil, domain.NewValidationError("items", "at least one item is required")
	}
	items, err := s.buildItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}
	amount := pricing.AggregateTotal(items)

	var newStatus *domain.RequestStatus
	if fromPending {
		open := domain.StatusOpen
		newStatus = &open
	}

	plan := s.newPlan("edit")
	err = s.run(ctx, plan, func(txCtx context.Context) error {
		if err := plan.step(stepStatus, func() error {
			return s.requestRepo.UpdateContent(txCtx, req.ID, description, amount, newStatus)
		}); err != nil {
			return err
		}
		if err := plan.step(stepItems, func() error { return s.itemRepo.ReplaceForRequest(txCtx, req.ID, items) }); err != nil {
			return err
		}
		if !fromPending {
			return nil
		}
		return plan.step(stepHistory, func() error {
			_, err := s.ledger.RecordTransition(txCtx, req.ID, actor.ID, domain.StatusPending, domain.StatusOpen, comment)
			return err
		})
	})
	if err != nil {
		return nil, s.logStoreError(actor, err)
	}

	logger.WithActor(s.logger, actor).Info("purchase request edited",
		zap.String("request_id", req.ID.String()),
		zap.Bool("reopened", fromPending),
		zap.String("amount", amount.StringFixed(2)))

	return s.finish(ctx, actor, plan, req.ID, nil)
}

// Decide applies an approver's decision to an open request
func (s *RequestService) Decide(ctx context.Context, actor domain.Actor, requestID uuid.UUID, decision domain.RequestStatus, comment string) (*domain.PurchaseRequestDTO, error) {
	var event domain.NotificationType
	switch decision {
	case domain.StatusApproved:
		event = domain.NotificationApproval
	case domain.StatusRejected:
		event = domain.NotificationRejection
	case domain.StatusPending:
		event = domain.NotificationMoreInfoRequested
	default:
		return nil, domain.NewValidationError("decision", "decision must be approved, rejected or pending")
	}

	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.HasRole(domain.RoleApprover, domain.RoleAdmin) {
		return nil, &domain.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: "decide on requests"}
	}
	if req.Status != domain.StatusOpen {
		return nil, &domain.InvalidTransitionError{RequestID: req.ID, From: req.Status, To: decision}
	}
	comment = strings.TrimSpace(comment)
	if comment == "" && decision != domain.StatusApproved {
		return nil, domain.NewValidationError("comment", "a comment is required when rejecting or requesting more information")
	}

	owner, err := s.owner(ctx, req)
	if err != nil {
		return nil, &domain.StoreError{Op: "decide", Step: "load owner", Err: err}
	}
	dispatch, err := s.dispatcher.Prepare(ctx, LifecycleEvent{
		Type:    event,
		Request: req,
		Owner:   owner,
		Actor:   actor,
		Comment: comment,
	})
	if err != nil {
		return nil, &domain.StoreError{Op: "decide", Step: "resolve recipients", Err: err}
	}

	from := req.Status
	plan := s.newPlan("decide")
	err = s.run(ctx, plan, func(txCtx context.Context) error {
		if err := plan.step(stepStatus, func() error { return s.requestRepo.UpdateStatus(txCtx, req.ID, decision) }); err != nil {
			return err
		}
		if err := plan.step(stepHistory, func() error {
			_, err := s.ledger.RecordTransition(txCtx, req.ID, actor.ID, from, decision, comment)
			return err
		}); err != nil {
			return err
		}
		return plan.step(stepNotifications, func() error { return s.dispatcher.Persist(txCtx, dispatch) })
	})
	if err != nil {
		return nil, s.logStoreError(actor, err)
	}

	logger.WithActor(s.logger, actor).Info("purchase request decided",
		zap.String("request_id", req.ID.String()),
		zap.String("decision", string(decision)))

	return s.finish(ctx, actor, plan, req.ID, dispatch)
}

// MarkPurchased records the purchase of an approved request with a delivery date per item
func (s *RequestService) MarkPurchased(ctx context.Context, actor domain.Actor, requestID uuid.UUID, deliveryDates map[uuid.UUID]time.Time) (*domain.PurchaseRequestDTO, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.HasRole(domain.RoleBuyer, domain.RoleAdmin) {
		return nil, &domain.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: "mark requests as purchased"}
	}
	if req.Status != domain.StatusApproved {
		return nil, &domain.InvalidTransitionError{RequestID: req.ID, From: req.Status, To: domain.StatusPurchased}
	}

	items, err := s.itemRepo.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, &domain.StoreError{Op: "mark purchased", Step: "load items", Err: err}
	}
	dates := make(map[uuid.UUID]time.Time, len(items))
	for _, item := range items {
		date, ok := deliveryDates[item.ID]
		if !ok || date.IsZero() {
			return nil, domain.NewValidationError("deliveryDates",
				fmt.Sprintf("a valid estimated delivery date (YYYY-MM-DD) is required for item %q", item.Description))
		}
		dates[item.ID] = date
	}
	req.Items = items

	owner, err := s.owner(ctx, req)
	if err != nil {
		return nil, &domain.StoreError{Op: "mark purchased", Step: "load owner", Err: err}
	}
	dispatch, err := s.dispatcher.Prepare(ctx, LifecycleEvent{
		Type:    domain.NotificationPurchased,
		Request: req,
		Owner:   owner,
		Actor:   actor,
	})
	if err != nil {
		return nil, &domain.StoreError{Op: "mark purchased", Step: "resolve recipients", Err: err}
	}

	plan := s.newPlan("mark purchased")
	err = s.run(ctx, plan, func(txCtx context.Context) error {
		if err := plan.step(stepStatus, func() error {
			return s.requestRepo.UpdateStatus(txCtx, req.ID, domain.StatusPurchased)
		}); err != nil {
			return err
		}
		if err := plan.step(stepItems, func() error { return s.itemRepo.SetDeliveryDates(txCtx, req.ID, dates) }); err != nil {
			return err
		}
		if err := plan.step(stepHistory, func() error {
			_, err := s.ledger.RecordTransition(txCtx, req.ID, actor.ID, domain.StatusApproved, domain.StatusPurchased, "")
			return err
		}); err != nil {
			return err
		}
		return plan.step(stepNotifications, func() error { return s.dispatcher.Persist(txCtx, dispatch) })
	})
	if err != nil {
		return nil, s.logStoreError(actor, err)
	}

	logger.WithActor(s.logger, actor).Info("purchase request purchased",
		zap.String("request_id", req.ID.String()),
		zap.Int("items", len(dates)))

	return s.finish(ctx, actor, plan, req.ID, dispatch)
}

// GetByID returns a request the actor may see
func (s *RequestService) GetByID(ctx context.Context, actor domain.Actor, requestID uuid.UUID) (*domain.PurchaseRequestDTO, error) {
	req, err := s.requestRepo.GetWithDetails(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	if !policy.CanView(actor, req) {
		return nil, &domain.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: "view this request"}
	}
	dto := mapper.ToPurchaseRequestDTO(req, policy.Permissions(actor, req))
	return &dto, nil
}

// List returns the requests visible to the actor, newest first
func (s *RequestService) List(ctx context.Context, actor domain.Actor, status *domain.RequestStatus) ([]domain.PurchaseRequestDTO, error) {
	if status != nil && !status.IsValid() {
		return nil, domain.NewValidationError("status", "unknown status")
	}
	filter := repository.RequestFilter{Status: status}
	if actor.Role == domain.RoleRequester {
		filter.OwnerID = &actor.ID
	}

	requests, err := s.requestRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	visible := policy.VisibleRequests(actor, requests)

	dtos := make([]domain.PurchaseRequestDTO, 0, len(visible))
	for i := range visible {
		dtos = append(dtos, mapper.ToPurchaseRequestDTO(&visible[i], policy.Permissions(actor, &visible[i])))
	}
	return dtos, nil
}

// History returns the ledger of a request the actor may see
func (s *RequestService) History(ctx context.Context, actor domain.Actor, requestID uuid.UUID) ([]domain.HistoryEntryDTO, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !policy.CanView(actor, req) {
		return nil, &domain.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: "view this request"}
	}
	entries, err := s.ledger.Entries(ctx, requestID)
	if err != nil {
		return nil, err
	}
	dtos := make([]domain.HistoryEntryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, mapper.ToHistoryEntryDTO(&entries[i]))
	}
	return dtos, nil
}

func (s *RequestService) load(ctx context.Context, requestID uuid.UUID) (*domain.PurchaseRequest, error) {
	req, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// owner returns the requesting user, or nil when the account was deleted
func (s *RequestService) owner(ctx context.Context, req *domain.PurchaseRequest) (*domain.User, error) {
	owner, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return owner, nil
}

// buildItems validates item input and prices every line
func (s *RequestService) buildItems(ctx context.Context, inputs []domain.ItemInput) ([]domain.RequestItem, error) {
	items := make([]domain.RequestItem, 0, len(inputs))
	vendorIDs := make(map[uuid.UUID]struct{})

	for i, in := range inputs {
		field := fmt.Sprintf("items[%d]", i)
		description := strings.TrimSpace(in.Description)
		if description == "" {
			return nil, domain.NewValidationError(field+".description", "description is required")
		}
		if in.Quantity <= 0 {
			return nil, domain.NewValidationError(field+".quantity", "quantity must be a positive integer")
		}
		if in.UnitPrice.IsNegative() {
			return nil, domain.NewValidationError(field+".unitPrice", "unit price must not be negative")
		}
		category := in.Category
		if category == "" {
			category = domain.CategoryOffice
		}
		if !validCategory(category) {
			return nil, domain.NewValidationError(field+".category", "unknown category")
		}
		if in.VendorID != nil {
			vendorIDs[*in.VendorID] = struct{}{}
		}

		items = append(items, domain.RequestItem{
			Description: description,
			Category:    category,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice.Round(pricing.CurrencyPlaces),
			Total:       pricing.LineTotal(in.Quantity, in.UnitPrice.Round(pricing.CurrencyPlaces)),
			VendorID:    in.VendorID,
			Link:        strings.TrimSpace(in.Link),
		})
	}

	if len(vendorIDs) > 0 {
		ids := make([]uuid.UUID, 0, len(vendorIDs))
		for id := range vendorIDs {
			ids = append(ids, id)
		}
		count, err := s.vendorRepo.CountByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to check vendors: %w", err)
		}
		if count != int64(len(ids)) {
			return nil, domain.NewValidationError("items", "one or more vendors do not exist")
		}
	}
	return items, nil
}

func validCategory(c domain.ItemCategory) bool {
	switch c {
	case domain.CategoryOffice, domain.CategoryHardware, domain.CategorySoftware, domain.CategoryServices, domain.CategoryTravel:
		return true
	}
	return false
}

// finish reloads the request after a committed write and hands the event to the dispatcher.
// Every step of the plan is durable by now, so a failed reload reports all of them as committed.
func (s *RequestService) finish(ctx context.Context, actor domain.Actor, plan *writePlan, requestID uuid.UUID, dispatch *Dispatch) (*domain.PurchaseRequestDTO, error) {
	req, err := s.requestRepo.GetWithDetails(ctx, requestID)
	if err != nil {
		return nil, s.logStoreError(actor, &domain.StoreError{
			Op:        plan.op,
			Step:      stepReload,
			Committed: append([]string(nil), plan.done...),
			Err:       err,
		})
	}

	queued := true
	if dispatch != nil {
		queued = s.dispatcher.Deliver(dispatch, req)
	}

	dto := mapper.ToPurchaseRequestDTO(req, policy.Permissions(actor, req))
	if !queued {
		dto.NotificationNote = emailNotQueuedNote
	}
	return &dto, nil
}

func (s *RequestService) logStoreError(actor domain.Actor, err error) error {
	var storeErr *domain.StoreError
	if errors.As(err, &storeErr) && storeErr.Partial() {
		logger.WithActor(s.logger, actor).Error("lifecycle operation partially recorded",
			zap.String("op", storeErr.Op),
			zap.String("failed_step", storeErr.Step),
			zap.Strings("committed", storeErr.Committed),
			zap.Error(storeErr.Err))
	}
	return err
}

