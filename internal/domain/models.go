package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BaseModel contains common fields for all models
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns an ID client-side so the row can be referenced before it is reloaded
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// UserRole is the single role a user holds in the purchasing workflow
type UserRole string

const (
	RoleRequester UserRole = "requester"
	RoleApprover  UserRole = "approver"
	RoleBuyer     UserRole = "buyer"
	RoleAdmin     UserRole = "admin"
)

// IsValid reports whether the role is one of the known roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleRequester, RoleApprover, RoleBuyer, RoleAdmin:
		return true
	}
	return false
}

// User is an account that can act on purchase requests
type User struct {
	BaseModel
	Name         string   `gorm:"type:varchar(200);not null"`
	Email        string   `gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string   `gorm:"type:varchar(255);column:password_hash"`
	Role         UserRole `gorm:"type:varchar(20);not null;default:'requester';index"`
	Department   string   `gorm:"type:varchar(100)"`
	Active       bool     `gorm:"not null;column:is_active"`
}

// Actor returns the acting identity for this user
func (u *User) Actor() Actor {
	return Actor{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Department: u.Department,
	}
}

// Actor is the authenticated user performing an operation
type Actor struct {
	ID         uuid.UUID
	Name       string
	Email      string
	Role       UserRole
	Department string
}

// HasRole reports whether the actor holds any of the given roles
func (a Actor) HasRole(roles ...UserRole) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// Vendor is a supplier that line items can reference
type Vendor struct {
	BaseModel
	Name         string `gorm:"type:varchar(200);not null;index"`
	ContactEmail string `gorm:"type:varchar(255);column:contact_email"`
	Phone        string `gorm:"type:varchar(50)"`
}

// RequestStatus is the lifecycle stage of a purchase request
type RequestStatus string

const (
	StatusOpen      RequestStatus = "open"
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusPurchased RequestStatus = "purchased"
)

// IsValid reports whether the status is a known lifecycle stage
func (s RequestStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusApproved, StatusRejected, StatusPurchased:
		return true
	}
	return false
}

// RequestPriority is the urgency a requester assigns to a request
type RequestPriority string

const (
	PriorityLow    RequestPriority = "low"
	PriorityMedium RequestPriority = "medium"
	PriorityHigh   RequestPriority = "high"
)

// PurchaseRequest is a purchase order submitted by a requester
type PurchaseRequest struct {
	BaseModel
	UserID      uuid.UUID       `gorm:"type:uuid;not null;index;column:user_id"`
	User        *User           `gorm:"foreignKey:UserID"`
	Description string          `gorm:"type:text;not null"`
	Department  string          `gorm:"type:varchar(100)"`
	Amount      decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0"`
	Status      RequestStatus   `gorm:"type:varchar(20);not null;default:'open';index"`
	Priority    RequestPriority `gorm:"type:varchar(20);not null;default:'medium'"`
	Notes       string          `gorm:"type:text"`
	Items       []RequestItem   `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE"`
	History     []HistoryEntry  `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for PurchaseRequest
func (PurchaseRequest) TableName() string {
	return "purchase_requests"
}

// PONumber is the display number derived from the creation timestamp
func (r *PurchaseRequest) PONumber() string {
	return FormatPONumber(r.CreatedAt)
}

// FormatPONumber renders PO-YYYY-MMDDHHMMSS for the given time
func FormatPONumber(t time.Time) string {
	return "PO-" + t.Format("2006-0102150405")
}

// ItemCategory classifies a line item
type ItemCategory string

const (
	CategoryOffice   ItemCategory = "office"
	CategoryHardware ItemCategory = "hardware"
	CategorySoftware ItemCategory = "software"
	CategoryServices ItemCategory = "services"
	CategoryTravel   ItemCategory = "travel"
)

// RequestItem is a single line on a purchase request
type RequestItem struct {
	BaseModel
	RequestID             uuid.UUID       `gorm:"type:uuid;not null;index;column:request_id"`
	Description           string          `gorm:"type:varchar(500);not null"`
	Category              ItemCategory    `gorm:"type:varchar(20);not null;default:'office'"`
	Quantity              int             `gorm:"not null"`
	UnitPrice             decimal.Decimal `gorm:"type:decimal(15,2);not null;column:unit_price"`
	Total                 decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	VendorID              *uuid.UUID      `gorm:"type:uuid;column:vendor_id"`
	Vendor                *Vendor         `gorm:"foreignKey:VendorID"`
	Link                  string          `gorm:"type:varchar(1000)"`
	EstimatedDeliveryDate *time.Time      `gorm:"type:date;column:estimated_delivery_date"`
	Position              int             `gorm:"not null;default:0"`
}

// TableName returns the table name for RequestItem
func (RequestItem) TableName() string {
	return "request_items"
}

func (i RequestItem) LineQuantity() int          { return i.Quantity }
func (i RequestItem) LinePrice() decimal.Decimal { return i.UnitPrice }

// HistoryEntryType distinguishes ledger entries
type HistoryEntryType string

const (
	HistoryStatusChange HistoryEntryType = "status_change"
	HistoryEdit         HistoryEntryType = "edit"
	HistoryComment      HistoryEntryType = "comment"
)

// IsValid reports whether the type is one the ledger stores
func (t HistoryEntryType) IsValid() bool {
	switch t {
	case HistoryStatusChange, HistoryEdit, HistoryComment:
		return true
	}
	return false
}

// HistoryEntry is an immutable record in a request's ledger
type HistoryEntry struct {
	ID        uuid.UUID        `gorm:"type:uuid;primary_key"`
	RequestID uuid.UUID        `gorm:"type:uuid;not null;index;column:request_id"`
	UserID    uuid.UUID        `gorm:"type:uuid;not null;column:user_id"`
	User      *User            `gorm:"foreignKey:UserID"`
	Type      HistoryEntryType `gorm:"type:varchar(20);not null;column:comment_type"`
	OldStatus *RequestStatus   `gorm:"type:varchar(20);column:old_status"`
	NewStatus *RequestStatus   `gorm:"type:varchar(20);column:new_status"`
	Comment   string           `gorm:"type:text"`
	// Sequence numbers the entries of one request from 1; it orders entries that share a timestamp
	Sequence  int64            `gorm:"not null;default:0"`
	CreatedAt time.Time        `gorm:"not null;index"`
}

// TableName returns the table name for HistoryEntry
func (HistoryEntry) TableName() string {
	return "request_comments"
}

// BeforeCreate assigns an ID when none was given
func (h *HistoryEntry) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// NotificationType identifies the lifecycle event a notification reports
type NotificationType string

const (
	NotificationSubmission        NotificationType = "submission"
	NotificationApproval          NotificationType = "approval"
	NotificationRejection         NotificationType = "rejection"
	NotificationMoreInfoRequested NotificationType = "more_info_requested"
	NotificationPurchased         NotificationType = "purchased"
)

// Notification is an in-app message for one recipient
type Notification struct {
	ID          uuid.UUID        `gorm:"type:uuid;primary_key"`
	RecipientID uuid.UUID        `gorm:"type:uuid;not null;index;column:recipient_id"`
	Type        NotificationType `gorm:"type:varchar(30);not null"`
	Subject     string           `gorm:"type:varchar(255);not null"`
	Message     string           `gorm:"type:text"`
	RequestID   *uuid.UUID       `gorm:"type:uuid;index;column:request_id"`
	Read        bool             `gorm:"not null;default:false"`
	ReadAt      *time.Time       `gorm:"column:read_at"`
	CreatedAt   time.Time        `gorm:"not null;index"`
}

// BeforeCreate assigns an ID when none was given
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// AllowedDomain is an email domain that may receive accounts
type AllowedDomain struct {
	BaseModel
	Domain string `gorm:"type:varchar(255);not null;uniqueIndex"`
}

// InvitationStatus is the state of an invitation
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationCancelled InvitationStatus = "cancelled"
	InvitationExpired   InvitationStatus = "expired"
)

// Invitation lets a new user self-register with a preassigned role
type Invitation struct {
	BaseModel
	Token       string           `gorm:"type:varchar(64);not null;uniqueIndex"`
	Email       string           `gorm:"type:varchar(255);not null;index"`
	Role        UserRole         `gorm:"type:varchar(20);not null"`
	Department  string           `gorm:"type:varchar(100)"`
	Status      InvitationStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	CreatedByID uuid.UUID        `gorm:"type:uuid;not null;column:created_by"`
	ExpiresAt   *time.Time       `gorm:"column:expires_at"`
	UsedAt      *time.Time       `gorm:"column:used_at"`
	UsedByID    *uuid.UUID       `gorm:"type:uuid;column:used_by"`
}

// IsExpired reports whether the invitation is past its expiry at the given time
func (i *Invitation) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// PasswordReset is a single-use link that lets a user choose a new password
type PasswordReset struct {
	BaseModel
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	Token     string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	ExpiresAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time `gorm:"column:used_at"`
}

// Usable reports whether the reset is unused and not yet expired
func (p *PasswordReset) Usable(now time.Time) bool {
	return p.UsedAt == nil && now.Before(p.ExpiresAt)
}
