package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/auth"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/service"
	"go.uber.org/zap"
)

var validate = validator.New()

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondValidationError sends a standardized validation error response with specific field messages
func respondValidationError(w http.ResponseWriter, err error) {
	errors := make(map[string]string)
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			fieldName := toJSONFieldName(fe.Field())
			errors[fieldName] = formatValidationError(fe)
		}
	}

	respondJSON(w, http.StatusBadRequest, domain.APIError{
		Type:   domain.ErrorTypeValidation,
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: "One or more fields failed validation",
		Errors: errors,
	})
}

// formatValidationError creates a human-readable validation error message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", toJSONFieldName(fe.Field()))
	case "email":
		return "Must be a valid email address"
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("Must be at least %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("Must be greater than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", fe.Param())
	case "url":
		return "Must be a valid URL"
	default:
		return domain.GetValidationMessage(fe.Tag())
	}
}

// toJSONFieldName converts a Go struct field name to its JSON equivalent (camelCase)
func toJSONFieldName(field string) string {
	if len(field) == 0 {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// respondWithError sends a standardized JSON error response
func respondWithError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, domain.APIError{
		Type:   getErrorType(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: message,
	})
}

// getErrorType returns the appropriate error type for an HTTP status code
func getErrorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return domain.ErrorTypeBadRequest
	case http.StatusUnauthorized:
		return domain.ErrorTypeUnauthorized
	case http.StatusForbidden:
		return domain.ErrorTypeForbidden
	case http.StatusNotFound:
		return domain.ErrorTypeNotFound
	case http.StatusConflict:
		return domain.ErrorTypeConflict
	default:
		return domain.ErrorTypeInternal
	}
}

// decodeAndValidate reads a JSON body into target and runs struct validation.
// It writes the error response itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validate.Struct(target); err != nil {
		respondValidationError(w, err)
		return false
	}
	return true
}

// parseID reads a uuid path parameter
func parseID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// currentActor returns the authenticated actor or writes a 401
func currentActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	userCtx, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return domain.Actor{}, false
	}
	return userCtx.Actor(), true
}

// respondServiceError maps service and domain errors onto problem responses
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, err error, action string) {
	var (
		validationErr *domain.ValidationError
		transitionErr *domain.InvalidTransitionError
		authzErr      *domain.AuthorizationError
		storeErr      *domain.StoreError
	)

	switch {
	case errors.As(err, &validationErr):
		apiErr := domain.APIError{
			Type:   domain.ErrorTypeValidation,
			Title:  "Validation Error",
			Status: http.StatusBadRequest,
			Detail: validationErr.Error(),
		}
		if validationErr.Field != "" {
			apiErr.Errors = map[string]string{validationErr.Field: validationErr.Message}
		}
		respondJSON(w, http.StatusBadRequest, apiErr)
	case errors.As(err, &transitionErr):
		respondJSON(w, http.StatusConflict, domain.APIError{
			Type:   domain.ErrorTypeInvalidTransition,
			Title:  "Invalid Transition",
			Status: http.StatusConflict,
			Detail: transitionErr.Error(),
		})
	case errors.As(err, &authzErr), errors.Is(err, service.ErrNotificationNotOwned):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrDomainNotAllowed), errors.Is(err, service.ErrCannotModifySelf):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrUserInactive),
		errors.Is(err, service.ErrUserContextRequired):
		respondWithError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &storeErr):
		logger.Error("store failure while "+action,
			zap.String("op", storeErr.Op),
			zap.String("step", storeErr.Step),
			zap.Strings("committed", storeErr.Committed),
			zap.Error(storeErr.Err))
		detail := "The operation could not be saved"
		if storeErr.Partial() {
			detail = fmt.Sprintf("The operation failed after saving: %s", strings.Join(storeErr.Committed, ", "))
		}
		respondJSON(w, http.StatusInternalServerError, domain.APIError{
			Type:    domain.ErrorTypeStore,
			Title:   http.StatusText(http.StatusInternalServerError),
			Status:  http.StatusInternalServerError,
			Detail:  detail,
			Partial: storeErr.Partial(),
		})
	default:
		logger.Error("failed to "+action, zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}
