package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/service"
	"go.uber.org/zap"
)

// RequestHandler serves the purchase request lifecycle
type RequestHandler struct {
	requestService *service.RequestService
	logger         *zap.Logger
}

// NewRequestHandler creates a new RequestHandler instance
func NewRequestHandler(requestService *service.RequestService, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		requestService: requestService,
		logger:         logger,
	}
}

// List godoc
// @Summary List purchase requests
// @Description Requests visible to the current user, newest first
// @Tags Requests
// @Produce json
// @Param status query string false "Filter by status" Enums(open, pending, approved, rejected, purchased)
// @Success 200 {array} domain.PurchaseRequestDTO
// @Failure 400 {object} domain.APIError
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Router /requests [get]
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	var status *domain.RequestStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.RequestStatus(raw)
		if !s.IsValid() {
			respondWithError(w, http.StatusBadRequest, "invalid status: must be one of open, pending, approved, rejected, purchased")
			return
		}
		status = &s
	}

	requests, err := h.requestService.List(r.Context(), actor, status)
	if err != nil {
		respondServiceError(w, h.logger, err, "list requests")
		return
	}
	respondJSON(w, http.StatusOK, requests)
}

// Create godoc
// @Summary Submit a purchase request
// @Tags Requests
// @Accept json
// @Produce json
// @Param request body domain.SubmitRequestInput true "Request with at least one item"
// @Success 201 {object} domain.PurchaseRequestDTO
// @Failure 400 {object} domain.APIError
// @Failure 500 {object} domain.APIError
// @Security BearerAuth
// @Router /requests [post]
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	var input domain.SubmitRequestInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	created, err := h.requestService.Submit(r.Context(), actor, input)
	if err != nil {
		respondServiceError(w, h.logger, err, "submit request")
		return
	}

	w.Header().Set("Location", "/api/v1/requests/"+created.ID.String())
	respondJSON(w, http.StatusCreated, created)
}

// GetByID godoc
// @Summary Get a purchase request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID" format(uuid)
// @Success 200 {object} domain.PurchaseRequestDTO
// @Failure 403 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Router /requests/{id} [get]
func (h *RequestHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	req, err := h.requestService.GetByID(r.Context(), actor, id)
	if err != nil {
		respondServiceError(w, h.logger, err, "get request")
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// Update godoc
// @Summary Edit a purchase request
// @Description Replaces description and items. An owner edit while more information is requested reopens the request and needs an edit comment.
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID" format(uuid)
// @Param request body domain.EditRequestInput true "New content"
// @Success 200 {object} domain.PurchaseRequestDTO
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Router /requests/{id} [put]
func (h *RequestHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	var input domain.EditRequestInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	updated, err := h.requestService.Edit(r.Context(), actor, id, input)
	if err != nil {
		respondServiceError(w, h.logger, err, "edit request")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// Decide godoc
// @Summary Approve, reject or request more information
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID" format(uuid)
// @Param request body domain.DecisionInput true "Decision"
// @Success 200 {object} domain.PurchaseRequestDTO
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Router /requests/{id}/decision [post]
func (h *RequestHandler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	var input domain.DecisionInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	updated, err := h.requestService.Decide(r.Context(), actor, id, input.Decision, input.Comment)
	if err != nil {
		respondServiceError(w, h.logger, err, "record decision")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// MarkPurchased godoc
// @Summary Mark an approved request purchased
// @Description Every item needs an estimated delivery date (YYYY-MM-DD)
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID" format(uuid)
// @Param request body domain.MarkPurchasedInput true "Delivery dates by item id"
// @Success 200 {object} domain.PurchaseRequestDTO
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Router /requests/{id}/purchase [post]
func (h *RequestHandler) MarkPurchased(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	var input domain.MarkPurchasedInput
	if !decodeAndValidate(w, r, &input) {
		return
	}

	// Keys that are not item ids match no item and are ignored. A malformed date stays
	// zero so the service reports it per item after its role and status checks.
	dates := make(map[uuid.UUID]time.Time, len(input.DeliveryDates))
	for rawID, rawDate := range input.DeliveryDates {
		itemID, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}
		date, err := time.Parse("2006-01-02", rawDate)
		if err != nil {
			date = time.Time{}
		}
		dates[itemID] = date
	}

	updated, err := h.requestService.MarkPurchased(r.Context(), actor, id, dates)
	if err != nil {
		respondServiceError(w, h.logger, err, "mark purchased")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// History godoc
// @Summary Get the history of a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID" format(uuid)
// @Success 200 {array} domain.HistoryEntryDTO
// @Failure 403 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Router /requests/{id}/history [get]
func (h *RequestHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	entries, err := h.requestService.History(r.Context(), actor, id)
	if err != nil {
		respondServiceError(w, h.logger, err, "get history")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
