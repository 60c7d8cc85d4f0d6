// Package notify renders lifecycle emails and delivers them asynchronously.
//
// Emails are best-effort: a failed render or send is logged as a
// domain.NotificationError and never reaches the caller of a lifecycle operation.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/purchase-api/internal/domain"
)

// ItemLine is one row of the item table in an email
type ItemLine struct {
	Description       string
	Quantity          int
	Total             decimal.Decimal
	EstimatedDelivery string
}

// RequestSnapshot is the part of a request an email renders
type RequestSnapshot struct {
	ID          uuid.UUID
	PONumber    string
	Description string
	Department  string
	Amount      decimal.Decimal
	Items       []ItemLine
	CreatedAt   time.Time
}

// SnapshotOf copies the fields an email needs so the job does not share state with the caller
func SnapshotOf(req *domain.PurchaseRequest) RequestSnapshot {
	snap := RequestSnapshot{
		ID:          req.ID,
		PONumber:    req.PONumber(),
		Description: req.Description,
		Department:  req.Department,
		Amount:      req.Amount,
		CreatedAt:   req.CreatedAt,
		Items:       make([]ItemLine, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		line := ItemLine{
			Description: item.Description,
			Quantity:    item.Quantity,
			Total:       item.Total,
		}
		if item.EstimatedDeliveryDate != nil {
			line.EstimatedDelivery = item.EstimatedDeliveryDate.Format("2006-01-02")
		}
		snap.Items = append(snap.Items, line)
	}
	return snap
}

// Email is one outbound email for a lifecycle event. All recipients share one message.
type Email struct {
	Type          domain.NotificationType
	Request       RequestSnapshot
	RequesterName string
	ApproverName  string
	Comment       string
	To            []string
	CC            []string
}

// PasswordResetEmail carries a reset link to one user. It is never archived since the
// link grants access to the account until it expires.
type PasswordResetEmail struct {
	To        string
	Name      string
	Token     string
	ExpiresAt time.Time
}

// Message is a rendered email ready for a Sender
type Message struct {
	From     string
	FromName string
	To       []string
	CC       []string
	Subject  string
	HTML     string
}

// Sender delivers a rendered message
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}
