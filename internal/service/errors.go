package service

import (
	"errors"
	"fmt"
)

// Common service errors. Specific errors wrap one of these so that callers can
// branch on the kind of failure with errors.Is.
var (
	// ErrNotFound is returned when a resource is not found
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when there's a conflict (e.g., duplicate)
	ErrConflict = errors.New("already exists")
)

var (
	// ErrRequestNotFound is returned when a purchase request is not found
	ErrRequestNotFound = fmt.Errorf("purchase request %w", ErrNotFound)

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

	// ErrVendorNotFound is returned when a vendor is not found
	ErrVendorNotFound = fmt.Errorf("vendor %w", ErrNotFound)

	// ErrExportNotFound is returned when no archived report export exists under a path
	ErrExportNotFound = fmt.Errorf("archived export %w", ErrNotFound)

	// ErrEmailExists is returned when an account with the email already exists
	ErrEmailExists = fmt.Errorf("a user with this email %w", ErrConflict)

	// ErrDomainNotAllowed is returned when the email domain is not on the allow list
	ErrDomainNotAllowed = errors.New("email domain is not allowed")

	// ErrInvalidCredentials is returned on a failed login
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserInactive is returned when a deactivated user tries to log in
	ErrUserInactive = errors.New("user account is deactivated")

	// ErrCannotModifySelf is returned when an admin tries to delete or deactivate their own account
	ErrCannotModifySelf = errors.New("cannot delete or deactivate your own account")
)
