package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// APIError represents a standardized API error with HTTP status code
type APIError struct {
	Type    string            `json:"type"`
	Title   string            `json:"title"`
	Status  int               `json:"status"`
	Detail  string            `json:"detail,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Partial bool              `json:"partial,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

// ValidationMessages provides human-readable validation error messages
// These map validator tags to user-friendly messages
var ValidationMessages = map[string]string{
	"required": "This field is required",
	"email":    "Must be a valid email address",
	"max":      "Exceeds maximum length",
	"min":      "Below minimum length",
	"gte":      "Must be greater than or equal to minimum value",
	"gt":       "Must be greater than minimum value",
	"lte":      "Must be less than or equal to maximum value",
	"uuid":     "Must be a valid UUID",
	"url":      "Must be a valid URL",
	"oneof":    "Must be one of the allowed values",
	"dive":     "One or more entries are invalid",
	"fqdn":     "Must be a valid domain name",
}

// GetValidationMessage returns a human-readable message for a validation tag
func GetValidationMessage(tag string) string {
	if msg, ok := ValidationMessages[tag]; ok {
		return msg
	}
	return "Validation failed: " + tag
}

// Common error types for RFC 7807 Problem Details
const (
	ErrorTypeValidation        = "validation_error"
	ErrorTypeInvalidTransition = "invalid_transition"
	ErrorTypeNotFound          = "not_found"
	ErrorTypeBadRequest        = "bad_request"
	ErrorTypeConflict          = "conflict"
	ErrorTypeUnauthorized      = "unauthorized"
	ErrorTypeForbidden         = "forbidden"
	ErrorTypeStore             = "store_error"
	ErrorTypeInternal          = "internal_error"
)

// ValidationError reports caller-supplied data that violates a precondition.
// It is always raised before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InvalidTransitionError reports a status change that is not legal from the current state
type InvalidTransitionError struct {
	RequestID uuid.UUID
	From      RequestStatus
	To        RequestStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move request %s from %s to %s", e.RequestID, e.From, e.To)
}

// AuthorizationError reports an actor whose role or ownership does not allow the action
type AuthorizationError struct {
	ActorID uuid.UUID
	Role    UserRole
	Action  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s with role %s may not %s", e.ActorID, e.Role, e.Action)
}

// StoreError wraps a failure of the backing store during an operation.
// Committed lists the write steps that were already durable when the failure happened;
// it is empty when the operation ran inside a single transaction.
type StoreError struct {
	Op        string
	Step      string
	Committed []string
	Err       error
}

func (e *StoreError) Error() string {
	msg := fmt.Sprintf("%s failed at %s: %v", e.Op, e.Step, e.Err)
	if e.Partial() {
		msg += fmt.Sprintf(" (already recorded: %s)", strings.Join(e.Committed, ", "))
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Partial reports whether some writes of the operation were committed before the failure
func (e *StoreError) Partial() bool {
	return len(e.Committed) > 0
}

// NotificationError wraps a failed email dispatch. It is logged, never returned to
// the caller of a lifecycle operation.
type NotificationError struct {
	Event     NotificationType
	RequestID uuid.UUID
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("failed to deliver %s email for request %s: %v", e.Event, e.RequestID, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}
