package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserDTO is the public view of a user
type UserDTO struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       UserRole  `json:"role"`
	Department string    `json:"department,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  string    `json:"createdAt"`
}

// VendorDTO is the public view of a vendor
type VendorDTO struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	ContactEmail string    `json:"contactEmail,omitempty"`
	Phone        string    `json:"phone,omitempty"`
}

// RequestItemDTO is a line item as returned to clients
type RequestItemDTO struct {
	ID                    uuid.UUID       `json:"id"`
	Description           string          `json:"description"`
	Category              ItemCategory    `json:"category"`
	Quantity              int             `json:"quantity"`
	UnitPrice             decimal.Decimal `json:"unitPrice"`
	Total                 decimal.Decimal `json:"total"`
	VendorID              *uuid.UUID      `json:"vendorId,omitempty"`
	VendorName            string          `json:"vendorName,omitempty"`
	Link                  string          `json:"link,omitempty"`
	EstimatedDeliveryDate string          `json:"estimatedDeliveryDate,omitempty"`
}

// HistoryEntryDTO is a ledger entry with its author resolved
type HistoryEntryDTO struct {
	ID        uuid.UUID        `json:"id"`
	Type      HistoryEntryType `json:"type"`
	OldStatus *RequestStatus   `json:"oldStatus,omitempty"`
	NewStatus *RequestStatus   `json:"newStatus,omitempty"`
	Comment   string           `json:"comment,omitempty"`
	UserID    uuid.UUID        `json:"userId"`
	UserName  string           `json:"userName,omitempty"`
	UserEmail string           `json:"userEmail,omitempty"`
	CreatedAt string           `json:"createdAt"`
}

// PurchaseRequestDTO is a purchase request with items, history and the actor's permissions
type PurchaseRequestDTO struct {
	ID               uuid.UUID          `json:"id"`
	PONumber         string             `json:"poNumber"`
	UserID           uuid.UUID          `json:"userId"`
	RequesterName    string             `json:"requesterName,omitempty"`
	RequesterEmail   string             `json:"requesterEmail,omitempty"`
	Description      string             `json:"description"`
	Department       string             `json:"department,omitempty"`
	Amount           decimal.Decimal    `json:"amount"`
	Status           RequestStatus      `json:"status"`
	Priority         RequestPriority    `json:"priority"`
	Notes            string             `json:"notes,omitempty"`
	CreatedAt        string             `json:"createdAt"`
	UpdatedAt        string             `json:"updatedAt"`
	Items            []RequestItemDTO   `json:"items"`
	History          []HistoryEntryDTO  `json:"history"`
	Permissions      RequestPermissions `json:"permissions"`
	NotificationNote string             `json:"notificationNote,omitempty"`
}

// RequestPermissions tells a client which actions the current actor may take
type RequestPermissions struct {
	CanEdit          bool `json:"canEdit"`
	CanDecide        bool `json:"canDecide"`
	CanMarkPurchased bool `json:"canMarkPurchased"`
}

// NotificationDTO is an in-app notification
type NotificationDTO struct {
	ID        uuid.UUID        `json:"id"`
	Type      NotificationType `json:"type"`
	Subject   string           `json:"subject"`
	Message   string           `json:"message"`
	RequestID *uuid.UUID       `json:"requestId,omitempty"`
	Read      bool             `json:"read"`
	ReadAt    *string          `json:"readAt,omitempty"`
	CreatedAt string           `json:"createdAt"`
}

// UnreadCountDTO is the number of unread notifications
type UnreadCountDTO struct {
	Count int `json:"count"`
}

// AllowedDomainDTO is an email domain that may hold accounts
type AllowedDomainDTO struct {
	ID        uuid.UUID `json:"id"`
	Domain    string    `json:"domain"`
	CreatedAt string    `json:"createdAt"`
}

// InvitationDTO is an invitation as shown to admins and invitees
type InvitationDTO struct {
	ID         uuid.UUID        `json:"id"`
	Token      string           `json:"token,omitempty"`
	Email      string           `json:"email"`
	Role       UserRole         `json:"role"`
	Department string           `json:"department,omitempty"`
	Status     InvitationStatus `json:"status"`
	ExpiresAt  *string          `json:"expiresAt,omitempty"`
	CreatedAt  string           `json:"createdAt"`
}

// PaginatedResponse wraps a page of results
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

// ============================================================================
// Request inputs
// ============================================================================

// ItemInput is a line item supplied by a client
type ItemInput struct {
	Description string          `json:"description" validate:"required,max=500"`
	Category    ItemCategory    `json:"category" validate:"required,oneof=office hardware software services travel"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	VendorID    *uuid.UUID      `json:"vendorId,omitempty"`
	Link        string          `json:"link,omitempty" validate:"omitempty,url,max=1000"`
}

func (i ItemInput) LineQuantity() int          { return i.Quantity }
func (i ItemInput) LinePrice() decimal.Decimal { return i.UnitPrice }

// SubmitRequestInput creates a new purchase request
type SubmitRequestInput struct {
	Description string          `json:"description" validate:"required"`
	Priority    RequestPriority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	Notes       string          `json:"notes,omitempty"`
	Items       []ItemInput     `json:"items" validate:"dive"`
}

// EditRequestInput replaces the description and items of a request
type EditRequestInput struct {
	Description string      `json:"description" validate:"required"`
	Items       []ItemInput `json:"items" validate:"dive"`
	EditComment string      `json:"editComment,omitempty"`
}

// DecisionInput is an approver's decision on an open request
type DecisionInput struct {
	Decision RequestStatus `json:"decision" validate:"required,oneof=approved rejected pending"`
	Comment  string        `json:"comment,omitempty"`
}

// MarkPurchasedInput carries an estimated delivery date (YYYY-MM-DD) per item id
type MarkPurchasedInput struct {
	DeliveryDates map[string]string `json:"deliveryDates" validate:"required"`
}

// ============================================================================
// Identity and administration inputs
// ============================================================================

// LoginRequest authenticates with email and password
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the session token
type LoginResponse struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expiresAt"`
	User      UserDTO `json:"user"`
}

// ChangePasswordRequest replaces the password of the signed-in user
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

// ForgotPasswordRequest asks for a reset link by email
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest sets a new password with a reset token
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

// CreateUserRequest creates a user directly (admin)
type CreateUserRequest struct {
	Name       string   `json:"name" validate:"required,max=200"`
	Email      string   `json:"email" validate:"required,email,max=255"`
	Password   string   `json:"password" validate:"required,min=8"`
	Role       UserRole `json:"role" validate:"required,oneof=requester approver buyer admin"`
	Department string   `json:"department,omitempty" validate:"max=100"`
}

// UpdateUserRequest updates profile fields; the password is never changed here
type UpdateUserRequest struct {
	Name       string   `json:"name" validate:"required,max=200"`
	Role       UserRole `json:"role" validate:"required,oneof=requester approver buyer admin"`
	Department string   `json:"department,omitempty" validate:"max=100"`
}

// CreateVendorRequest adds a vendor
type CreateVendorRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	ContactEmail string `json:"contactEmail,omitempty" validate:"omitempty,email"`
	Phone        string `json:"phone,omitempty" validate:"max=50"`
}

// CreateInvitationRequest invites a new user
type CreateInvitationRequest struct {
	Email      string   `json:"email" validate:"required,email"`
	Role       UserRole `json:"role" validate:"required,oneof=requester approver buyer admin"`
	Department string   `json:"department,omitempty" validate:"max=100"`
	ExpiryDays int      `json:"expiryDays" validate:"gte=0,lte=365"`
}

// AcceptInvitationRequest completes self-registration
type AcceptInvitationRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Password string `json:"password" validate:"required,min=8"`
}

// CreateAllowedDomainRequest registers an email domain
type CreateAllowedDomainRequest struct {
	Domain string `json:"domain" validate:"required,fqdn"`
}

// ============================================================================
// Dashboard and reports
// ============================================================================

// StatsDTO holds the dashboard counters
type StatsDTO struct {
	Pending    int64           `json:"pending"`
	Approved   int64           `json:"approved"`
	TotalSpend decimal.Decimal `json:"totalSpend"`
}

// ReportFilter narrows report input
type ReportFilter struct {
	From   *time.Time
	To     *time.Time
	UserID *uuid.UUID
}

// DepartmentSpend is spend aggregated for one department
type DepartmentSpend struct {
	Department string          `json:"department"`
	Amount     decimal.Decimal `json:"amount"`
}

// ReportDTO holds report KPIs
type ReportDTO struct {
	RequestCount       int                   `json:"requestCount"`
	TotalSpent         decimal.Decimal       `json:"totalSpent"`
	ApprovalRate       float64               `json:"approvalRate"`
	SpendByDepartment  []DepartmentSpend     `json:"spendByDepartment"`
	StatusDistribution map[RequestStatus]int `json:"statusDistribution"`
}
