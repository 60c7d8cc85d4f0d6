package handler

import (
	"net/http"

	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/service"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// Login godoc
// @Summary Log in
// @Description Exchanges email and password for a session token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body domain.LoginRequest true "Credentials"
// @Success 200 {object} domain.LoginResponse
// @Failure 400 {object} domain.APIError
// @Failure 401 {object} domain.APIError
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "log in")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Logout godoc
// @Summary Log out
// @Description Revokes the current session
// @Tags Auth
// @Success 204 "No Content"
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.Logout(r.Context()); err != nil {
		respondServiceError(w, h.logger, err, "log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me godoc
// @Summary Get current authenticated user
// @Tags Auth
// @Produce json
// @Success 200 {object} domain.UserDTO
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.Me(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "get current user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// ChangePassword godoc
// @Summary Change the password of the current user
// @Description Checks the current password and ends every other session of the user
// @Tags Auth
// @Accept json
// @Param request body domain.ChangePasswordRequest true "Current and new password"
// @Success 204 "No Content"
// @Failure 400 {object} domain.APIError
// @Failure 401 {object} domain.APIError
// @Security BearerAuth
// @Router /auth/password [put]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.authService.ChangePassword(r.Context(), &req); err != nil {
		respondServiceError(w, h.logger, err, "change password")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword godoc
// @Summary Request a password reset link
// @Description Always answers 202 so the response does not reveal whether the email has an account
// @Tags Auth
// @Accept json
// @Param request body domain.ForgotPasswordRequest true "Account email"
// @Success 202 "Accepted"
// @Failure 400 {object} domain.APIError
// @Router /auth/password/forgot [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ForgotPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.authService.RequestPasswordReset(r.Context(), req.Email); err != nil {
		respondServiceError(w, h.logger, err, "request password reset")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ResetPassword godoc
// @Summary Set a new password with a reset token
// @Tags Auth
// @Accept json
// @Param request body domain.ResetPasswordRequest true "Reset token and new password"
// @Success 204 "No Content"
// @Failure 400 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Router /auth/password/reset [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req domain.ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.authService.ResetPassword(r.Context(), &req); err != nil {
		respondServiceError(w, h.logger, err, "reset password")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
