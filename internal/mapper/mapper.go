package mapper

import (
	"github.com/straye-as/purchase-api/internal/domain"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// ToUserDTO converts User to UserDTO
func ToUserDTO(user *domain.User) domain.UserDTO {
	return domain.UserDTO{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		Role:       user.Role,
		Department: user.Department,
		Active:     user.Active,
		CreatedAt:  user.CreatedAt.UTC().Format(timestampLayout),
	}
}

// ToVendorDTO converts Vendor to VendorDTO
func ToVendorDTO(vendor *domain.Vendor) domain.VendorDTO {
	return domain.VendorDTO{
		ID:           vendor.ID,
		Name:         vendor.Name,
		ContactEmail: vendor.ContactEmail,
		Phone:        vendor.Phone,
	}
}

// ToRequestItemDTO converts RequestItem to RequestItemDTO
func ToRequestItemDTO(item *domain.RequestItem) domain.RequestItemDTO {
	dto := domain.RequestItemDTO{
		ID:          item.ID,
		Description: item.Description,
		Category:    item.Category,
		Quantity:    item.Quantity,
		UnitPrice:   item.UnitPrice,
		Total:       item.Total,
		VendorID:    item.VendorID,
		Link:        item.Link,
	}
	if item.Vendor != nil {
		dto.VendorName = item.Vendor.Name
	}
	if item.EstimatedDeliveryDate != nil {
		dto.EstimatedDeliveryDate = item.EstimatedDeliveryDate.Format("2006-01-02")
	}
	return dto
}

// ToHistoryEntryDTO converts HistoryEntry to HistoryEntryDTO
func ToHistoryEntryDTO(entry *domain.HistoryEntry) domain.HistoryEntryDTO {
	dto := domain.HistoryEntryDTO{
		ID:        entry.ID,
		Type:      entry.Type,
		OldStatus: entry.OldStatus,
		NewStatus: entry.NewStatus,
		Comment:   entry.Comment,
		UserID:    entry.UserID,
		CreatedAt: entry.CreatedAt.UTC().Format(timestampLayout),
	}
	// The author may have been deleted since; the entry keeps the id
	if entry.User != nil {
		dto.UserName = entry.User.Name
		dto.UserEmail = entry.User.Email
	}
	return dto
}

// ToPurchaseRequestDTO converts a request with its children and the viewer's permissions
func ToPurchaseRequestDTO(req *domain.PurchaseRequest, perms domain.RequestPermissions) domain.PurchaseRequestDTO {
	dto := domain.PurchaseRequestDTO{
		ID:          req.ID,
		PONumber:    req.PONumber(),
		UserID:      req.UserID,
		Description: req.Description,
		Department:  req.Department,
		Amount:      req.Amount,
		Status:      req.Status,
		Priority:    req.Priority,
		Notes:       req.Notes,
		CreatedAt:   req.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt:   req.UpdatedAt.UTC().Format(timestampLayout),
		Items:       make([]domain.RequestItemDTO, 0, len(req.Items)),
		History:     make([]domain.HistoryEntryDTO, 0, len(req.History)),
		Permissions: perms,
	}
	if req.User != nil {
		dto.RequesterName = req.User.Name
		dto.RequesterEmail = req.User.Email
	}
	for i := range req.Items {
		dto.Items = append(dto.Items, ToRequestItemDTO(&req.Items[i]))
	}
	for i := range req.History {
		dto.History = append(dto.History, ToHistoryEntryDTO(&req.History[i]))
	}
	return dto
}

// ToNotificationDTO converts Notification to NotificationDTO
func ToNotificationDTO(notification *domain.Notification) domain.NotificationDTO {
	dto := domain.NotificationDTO{
		ID:        notification.ID,
		Type:      notification.Type,
		Subject:   notification.Subject,
		Message:   notification.Message,
		RequestID: notification.RequestID,
		Read:      notification.Read,
		CreatedAt: notification.CreatedAt.UTC().Format(timestampLayout),
	}
	if notification.ReadAt != nil {
		readAt := notification.ReadAt.UTC().Format(timestampLayout)
		dto.ReadAt = &readAt
	}
	return dto
}

// ToAllowedDomainDTO converts AllowedDomain to AllowedDomainDTO
func ToAllowedDomainDTO(d *domain.AllowedDomain) domain.AllowedDomainDTO {
	return domain.AllowedDomainDTO{
		ID:        d.ID,
		Domain:    d.Domain,
		CreatedAt: d.CreatedAt.UTC().Format(timestampLayout),
	}
}

// ToInvitationDTO converts Invitation to InvitationDTO. The token is only
// included when withToken is set, i.e. right after creation.
func ToInvitationDTO(inv *domain.Invitation, withToken bool) domain.InvitationDTO {
	dto := domain.InvitationDTO{
		ID:         inv.ID,
		Email:      inv.Email,
		Role:       inv.Role,
		Department: inv.Department,
		Status:     inv.Status,
		CreatedAt:  inv.CreatedAt.UTC().Format(timestampLayout),
	}
	if withToken {
		dto.Token = inv.Token
	}
	if inv.ExpiresAt != nil {
		expires := inv.ExpiresAt.UTC().Format(timestampLayout)
		dto.ExpiresAt = &expires
	}
	return dto
}
