// Package policy holds the role-based rules that decide which purchase requests an
// actor may see and which actions they may take on them. Every presentation layer
// and every service re-checks these rules; a client hint is never trusted.
package policy

import (
	"github.com/straye-as/purchase-api/internal/domain"
)

// buyerVisibleStatuses are the statuses a buyer sees on requests they do not own
var buyerVisibleStatuses = map[domain.RequestStatus]bool{
	domain.StatusApproved:  true,
	domain.StatusPurchased: true,
	domain.StatusOpen:      true,
}

// CanView reports whether the actor may see the request
func CanView(actor domain.Actor, req *domain.PurchaseRequest) bool {
	if req == nil {
		return false
	}
	switch actor.Role {
	case domain.RoleApprover, domain.RoleAdmin:
		return true
	case domain.RoleBuyer:
		return req.UserID == actor.ID || buyerVisibleStatuses[req.Status]
	case domain.RoleRequester:
		return req.UserID == actor.ID
	default:
		return false
	}
}

// VisibleRequests returns the subset of requests the actor may see, preserving order
func VisibleRequests(actor domain.Actor, all []domain.PurchaseRequest) []domain.PurchaseRequest {
	visible := make([]domain.PurchaseRequest, 0, len(all))
	for i := range all {
		if CanView(actor, &all[i]) {
			visible = append(visible, all[i])
		}
	}
	return visible
}

// CanEdit reports whether the actor may replace the request's description and items:
// the owner while more information is requested, or any approver or admin.
func CanEdit(actor domain.Actor, req *domain.PurchaseRequest) bool {
	if req == nil {
		return false
	}
	if actor.HasRole(domain.RoleApprover, domain.RoleAdmin) {
		return true
	}
	return req.UserID == actor.ID && req.Status == domain.StatusPending
}

// CanDecide reports whether the actor may approve, reject or send back the request
func CanDecide(actor domain.Actor, req *domain.PurchaseRequest) bool {
	return req != nil && actor.HasRole(domain.RoleApprover, domain.RoleAdmin) && req.Status == domain.StatusOpen
}

// CanMarkPurchased reports whether the actor may record the purchase of the request
func CanMarkPurchased(actor domain.Actor, req *domain.PurchaseRequest) bool {
	return req != nil && actor.HasRole(domain.RoleBuyer, domain.RoleAdmin) && req.Status == domain.StatusApproved
}

// Permissions summarises the actions available to the actor on the request
func Permissions(actor domain.Actor, req *domain.PurchaseRequest) domain.RequestPermissions {
	return domain.RequestPermissions{
		CanEdit:          CanEdit(actor, req),
		CanDecide:        CanDecide(actor, req),
		CanMarkPurchased: CanMarkPurchased(actor, req),
	}
}

// CanManageUsers reports whether the actor may administer users, invitations and domains
func CanManageUsers(actor domain.Actor) bool {
	return actor.HasRole(domain.RoleAdmin)
}

// CanViewReports reports whether the actor may run spend reports
func CanViewReports(actor domain.Actor) bool {
	return actor.HasRole(domain.RoleApprover, domain.RoleAdmin)
}

// CanManageVendors reports whether the actor may add vendors
func CanManageVendors(actor domain.Actor) bool {
	return actor.HasRole(domain.RoleApprover, domain.RoleBuyer, domain.RoleAdmin)
}
