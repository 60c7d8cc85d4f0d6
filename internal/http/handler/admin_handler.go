package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/service"
	"go.uber.org/zap"
)

// UserHandler serves user administration
type UserHandler struct {
	userService *service.UserService
	logger      *zap.Logger
}

func NewUserHandler(userService *service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, logger: logger}
}

// List godoc
// @Summary List users
// @Tags Users
// @Produce json
// @Success 200 {array} domain.UserDTO
// @Failure 403 {object} domain.APIError
// @Security BearerAuth
// @Router /users [get]
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	users, err := h.userService.List(r.Context(), actor)
	if err != nil {
		respondServiceError(w, h.logger, err, "list users")
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	user, err := h.userService.GetByID(r.Context(), actor, id)
	if err != nil {
		respondServiceError(w, h.logger, err, "get user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// Create godoc
// @Summary Create a user
// @Description The email domain must be on the allowed domain list
// @Tags Users
// @Accept json
// @Produce json
// @Param request body domain.CreateUserRequest true "User"
// @Success 201 {object} domain.UserDTO
// @Failure 400 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Router /users [post]
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	var req domain.CreateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := h.userService.Create(r.Context(), actor, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "create user")
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req domain.UpdateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := h.userService.Update(r.Context(), actor, id, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "update user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// ToggleActive flips the active flag of a user
func (h *UserHandler) ToggleActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	user, err := h.userService.ToggleActive(r.Context(), actor, id)
	if err != nil {
		respondServiceError(w, h.logger, err, "change user status")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.userService.Delete(r.Context(), actor, id); err != nil {
		respondServiceError(w, h.logger, err, "delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvitationHandler serves invitation management and self-registration
type InvitationHandler struct {
	invitationService *service.InvitationService
	logger            *zap.Logger
}

func NewInvitationHandler(invitationService *service.InvitationService, logger *zap.Logger) *InvitationHandler {
	return &InvitationHandler{invitationService: invitationService, logger: logger}
}

// Create godoc
// @Summary Invite a user
// @Description The response carries the invitation token; it is not shown again
// @Tags Invitations
// @Accept json
// @Produce json
// @Param request body domain.CreateInvitationRequest true "Invitation"
// @Success 201 {object} domain.InvitationDTO
// @Failure 400 {object} domain.APIError
// @Failure 409 {object} domain.APIError
// @Security BearerAuth
// @Router /invitations [post]
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	var req domain.CreateInvitationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	inv, err := h.invitationService.Create(r.Context(), actor, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "create invitation")
		return
	}
	respondJSON(w, http.StatusCreated, inv)
}

func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	var status *domain.InvitationStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.InvitationStatus(raw)
		status = &s
	}
	invitations, err := h.invitationService.List(r.Context(), actor, status)
	if err != nil {
		respondServiceError(w, h.logger, err, "list invitations")
		return
	}
	respondJSON(w, http.StatusOK, invitations)
}

func (h *InvitationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.invitationService.Cancel(r.Context(), actor, id); err != nil {
		respondServiceError(w, h.logger, err, "cancel invitation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetByToken godoc
// @Summary Look up an invitation
// @Tags Invitations
// @Produce json
// @Param token path string true "Invitation token"
// @Success 200 {object} domain.InvitationDTO
// @Failure 404 {object} domain.APIError
// @Router /invitations/token/{token} [get]
func (h *InvitationHandler) GetByToken(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invitationService.GetByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		respondServiceError(w, h.logger, err, "get invitation")
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

// Accept godoc
// @Summary Register through an invitation
// @Tags Invitations
// @Accept json
// @Produce json
// @Param token path string true "Invitation token"
// @Param request body domain.AcceptInvitationRequest true "Name and password"
// @Success 201 {object} domain.UserDTO
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Router /invitations/token/{token}/accept [post]
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req domain.AcceptInvitationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := h.invitationService.Accept(r.Context(), chi.URLParam(r, "token"), &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "accept invitation")
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// AllowedDomainHandler serves the allowed email domain list
type AllowedDomainHandler struct {
	domainService *service.AllowedDomainService
	logger        *zap.Logger
}

func NewAllowedDomainHandler(domainService *service.AllowedDomainService, logger *zap.Logger) *AllowedDomainHandler {
	return &AllowedDomainHandler{domainService: domainService, logger: logger}
}

func (h *AllowedDomainHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	domains, err := h.domainService.List(r.Context(), actor)
	if err != nil {
		respondServiceError(w, h.logger, err, "list allowed domains")
		return
	}
	respondJSON(w, http.StatusOK, domains)
}

func (h *AllowedDomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	var req domain.CreateAllowedDomainRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	d, err := h.domainService.Create(r.Context(), actor, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "add allowed domain")
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (h *AllowedDomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.domainService.Delete(r.Context(), actor, id); err != nil {
		respondServiceError(w, h.logger, err, "remove allowed domain")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
