package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/repository"
	"github.com/straye-as/purchase-api/internal/service"
	"github.com/straye-as/purchase-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) submit(t *testing.T, owner *domain.User, items ...domain.ItemInput) *domain.PurchaseRequestDTO {
	t.Helper()
	if len(items) == 0 {
		items = []domain.ItemInput{testutil.Item("Chair", 2, "10.00"), testutil.Item("Cushion", 3, "5.00")}
	}
	dto, err := e.svc.Submit(context.Background(), owner.Actor(), domain.SubmitRequestInput{
		Description: "Office furniture",
		Items:       items,
	})
	require.NoError(t, err)
	return dto
}

func deliveryDates(dto *domain.PurchaseRequestDTO, date time.Time) map[uuid.UUID]time.Time {
	dates := make(map[uuid.UUID]time.Time, len(dto.Items))
	for _, item := range dto.Items {
		dates[item.ID] = date
	}
	return dates
}

func TestRequestService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip yields open request with aggregated amount and empty ledger", func(t *testing.T) {
		env := newTestEnv(t)
		created, err := env.svc.Submit(ctx, env.requester.Actor(), domain.SubmitRequestInput{
			Description: "Office supplies",
			Priority:    domain.PriorityHigh,
			Notes:       "before Friday",
			Items: []domain.ItemInput{
				testutil.Item("Paper", 2, "10.00"),
				testutil.Item("Pens", 1, "5.50"),
			},
		})
		require.NoError(t, err)

		got, err := env.svc.GetByID(ctx, env.requester.Actor(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOpen, got.Status)
		assert.Equal(t, "25.50", got.Amount.StringFixed(2))
		assert.Empty(t, got.History)
		assert.Equal(t, domain.PriorityHigh, got.Priority)
		assert.Equal(t, "before Friday", got.Notes)
		assert.Equal(t, "Operations", got.Department)
		assert.Equal(t, env.requester.Name, got.RequesterName)
		require.Len(t, got.Items, 2)
		assert.Equal(t, "Paper", got.Items[0].Description)
		assert.Equal(t, "20.00", got.Items[0].Total.StringFixed(2))
		assert.Equal(t, "Pens", got.Items[1].Description)
		assert.Equal(t, "5.50", got.Items[1].Total.StringFixed(2))
		assert.Regexp(t, `^PO-\d{4}-\d{10}$`, got.PONumber)
	})

	t.Run("zero items fails with validation error and creates nothing", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Submit(ctx, env.requester.Actor(), domain.SubmitRequestInput{Description: "Nothing"})

		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "items", verr.Field)
		assert.Zero(t, env.countRows(t, &domain.PurchaseRequest{}))
		assert.Zero(t, env.countRows(t, &domain.Notification{}))
		assert.Empty(t, env.queue.all())
	})

	t.Run("invalid items are rejected before any write", func(t *testing.T) {
		env := newTestEnv(t)
		cases := []struct {
			name  string
			item  domain.ItemInput
			field string
		}{
			{"zero quantity", testutil.Item("Chair", 0, "10.00"), "items[0].quantity"},
			{"negative price", testutil.Item("Chair", 1, "-1.00"), "items[0].unitPrice"},
			{"blank description", testutil.Item("  ", 1, "1.00"), "items[0].description"},
			{"unknown category", domain.ItemInput{Description: "Chair", Category: "food", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}, "items[0].category"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := env.svc.Submit(ctx, env.requester.Actor(), domain.SubmitRequestInput{
					Description: "Bad",
					Items:       []domain.ItemInput{tc.item},
				})
				var verr *domain.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tc.field, verr.Field)
			})
		}
		assert.Zero(t, env.countRows(t, &domain.PurchaseRequest{}))
	})

	t.Run("blank description is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Submit(ctx, env.requester.Actor(), domain.SubmitRequestInput{
			Description: " ",
			Items:       []domain.ItemInput{testutil.Item("Chair", 1, "1.00")},
		})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "description", verr.Field)
	})

	t.Run("vendors must exist", func(t *testing.T) {
		env := newTestEnv(t)
		vendor := testutil.CreateTestVendor(t, env.db, "acme")

		item := testutil.Item("Desk", 1, "100.00")
		item.VendorID = &vendor.ID
		dto := env.submit(t, env.requester, item)
		require.Len(t, dto.Items, 1)
		assert.Equal(t, "acme", dto.Items[0].VendorName)

		unknown := uuid.New()
		item.VendorID = &unknown
		_, err := env.svc.Submit(ctx, env.requester.Actor(), domain.SubmitRequestInput{
			Description: "Desk",
			Items:       []domain.ItemInput{item},
		})
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("submission notifies active approvers and admins and cc's the requester", func(t *testing.T) {
		env := newTestEnv(t)
		inactive := testutil.CreateInactiveUser(t, env.db, "ivan", domain.RoleApprover)

		dto := env.submit(t, env.requester)

		ns := env.notificationsFor(t, dto.ID)
		assert.ElementsMatch(t, []uuid.UUID{env.approver.ID, env.admin.ID}, recipientIDs(ns))
		assert.NotContains(t, recipientIDs(ns), inactive.ID)
		for _, n := range ns {
			assert.Equal(t, domain.NotificationSubmission, n.Type)
			assert.Equal(t, "New request from rita", n.Subject)
			assert.Contains(t, n.Message, "Office furniture")
			assert.Contains(t, n.Message, "$35.00")
		}

		emails := env.queue.all()
		require.Len(t, emails, 1)
		assert.Equal(t, domain.NotificationSubmission, emails[0].Type)
		assert.ElementsMatch(t, []string{env.approver.Email, env.admin.Email}, emails[0].To)
		assert.Equal(t, []string{env.requester.Email}, emails[0].CC)
		assert.Equal(t, env.requester.Name, emails[0].RequesterName)
		assert.Equal(t, dto.PONumber, emails[0].Request.PONumber)
		assert.Len(t, emails[0].Request.Items, 2)

		assert.ElementsMatch(t, []uuid.UUID{env.approver.ID, env.admin.ID}, env.publisher.recipients())
	})

	t.Run("submitter who is already a recipient is not cc'd", func(t *testing.T) {
		env := newTestEnv(t)

		env.submit(t, env.admin)

		emails := env.queue.all()
		require.Len(t, emails, 1)
		assert.ElementsMatch(t, []string{env.approver.Email, env.admin.Email}, emails[0].To)
		assert.Empty(t, emails[0].CC)
	})
}

func TestRequestService_Decide(t *testing.T) {
	ctx := context.Background()

	t.Run("decide on a request that is not open always fails", func(t *testing.T) {
		env := newTestEnv(t)
		for _, status := range []domain.RequestStatus{domain.StatusPending, domain.StatusApproved, domain.StatusRejected, domain.StatusPurchased} {
			for _, decision := range []domain.RequestStatus{domain.StatusApproved, domain.StatusRejected, domain.StatusPending} {
				dto := env.submit(t, env.requester)
				env.setStatus(t, dto.ID, status)

				_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, decision, "comment")
				var terr *domain.InvalidTransitionError
				require.ErrorAs(t, err, &terr, "status %s decision %s", status, decision)
				assert.Equal(t, status, terr.From)
				assert.Equal(t, decision, terr.To)

				got, err := env.svc.GetByID(ctx, env.approver.Actor(), dto.ID)
				require.NoError(t, err)
				assert.Equal(t, status, got.Status)
				assert.Empty(t, got.History)
			}
		}
	})

	t.Run("only approvers and admins may decide", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)

		for _, actor := range []*domain.User{env.requester, env.buyer} {
			_, err := env.svc.Decide(ctx, actor.Actor(), dto.ID, domain.StatusApproved, "")
			var aerr *domain.AuthorizationError
			assert.ErrorAs(t, err, &aerr)
		}

		approved, err := env.svc.Decide(ctx, env.admin.Actor(), dto.ID, domain.StatusApproved, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, approved.Status)
	})

	t.Run("comment is mandatory for rejection and more info", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)

		for _, decision := range []domain.RequestStatus{domain.StatusRejected, domain.StatusPending} {
			_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, decision, "   ")
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "comment", verr.Field)
		}
		assert.Zero(t, env.countRows(t, &domain.HistoryEntry{}))
	})

	t.Run("unknown decision is a validation error", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)

		_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusPurchased, "")
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("missing request", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Decide(ctx, env.approver.Actor(), uuid.New(), domain.StatusApproved, "")
		assert.ErrorIs(t, err, service.ErrRequestNotFound)
	})

	t.Run("approval records one entry and notifies owner and buyers", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)
		submissionEmails := len(env.queue.all())

		got, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusApproved, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, got.Status)
		require.Len(t, got.History, 1)
		entry := got.History[0]
		assert.Equal(t, domain.HistoryStatusChange, entry.Type)
		assert.Equal(t, domain.StatusOpen, *entry.OldStatus)
		assert.Equal(t, domain.StatusApproved, *entry.NewStatus)
		assert.Equal(t, env.approver.ID, entry.UserID)
		assert.Equal(t, env.approver.Name, entry.UserName)

		var approvals []domain.Notification
		for _, n := range env.notificationsFor(t, dto.ID) {
			if n.Type == domain.NotificationApproval {
				approvals = append(approvals, n)
			}
		}
		assert.ElementsMatch(t, []uuid.UUID{env.requester.ID, env.buyer.ID}, recipientIDs(approvals))

		emails := env.queue.all()
		require.Len(t, emails, submissionEmails+1)
		email := emails[len(emails)-1]
		assert.Equal(t, domain.NotificationApproval, email.Type)
		assert.ElementsMatch(t, []string{env.requester.Email, env.buyer.Email}, email.To)
		assert.Empty(t, email.CC)
		assert.Equal(t, env.approver.Name, email.ApproverName)
		assert.Equal(t, env.requester.Name, email.RequesterName)
	})

	t.Run("rejection and more info notify only the owner", func(t *testing.T) {
		env := newTestEnv(t)
		cases := map[domain.RequestStatus]domain.NotificationType{
			domain.StatusRejected: domain.NotificationRejection,
			domain.StatusPending:  domain.NotificationMoreInfoRequested,
		}
		for decision, event := range cases {
			dto := env.submit(t, env.requester)

			got, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, decision, "Which model?")
			require.NoError(t, err)
			assert.Equal(t, decision, got.Status)
			require.Len(t, got.History, 1)
			assert.Equal(t, "Which model?", got.History[0].Comment)

			var ns []domain.Notification
			for _, n := range env.notificationsFor(t, dto.ID) {
				if n.Type == event {
					ns = append(ns, n)
				}
			}
			require.Len(t, ns, 1)
			assert.Equal(t, env.requester.ID, ns[0].RecipientID)
			assert.Contains(t, ns[0].Message, "Which model?")

			emails := env.queue.all()
			email := emails[len(emails)-1]
			assert.Equal(t, event, email.Type)
			assert.Equal(t, []string{env.requester.Email}, email.To)
			assert.Equal(t, "Which model?", email.Comment)
		}
	})

	t.Run("a full email queue does not fail the transition", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)
		env.queue.reject = true

		got, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusApproved, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, got.Status)
		assert.NotEmpty(t, got.NotificationNote)
		assert.Len(t, env.notificationsFor(t, dto.ID), 4)
	})

	t.Run("owner deleted after submission still allows decisions", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.other)
		require.NoError(t, env.db.Delete(&domain.User{}, "id = ?", env.other.ID).Error)

		got, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusRejected, "Duplicate")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRejected, got.Status)
		assert.Equal(t, env.other.ID, got.UserID)
	})
}

func TestRequestService_Edit(t *testing.T) {
	ctx := context.Background()

	newItems := []domain.ItemInput{testutil.Item("Standing desk", 1, "450.00")}

	t.Run("owner edit of pending request requires a comment", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)
		_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusPending, "Which model?")
		require.NoError(t, err)

		_, err = env.svc.Edit(ctx, env.requester.Actor(), dto.ID, domain.EditRequestInput{
			Description: "Desk",
			Items:       newItems,
			EditComment: "  ",
		})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "editComment", verr.Field)

		got, err := env.svc.GetByID(ctx, env.requester.Actor(), dto.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Len(t, got.History, 1)
		assert.Len(t, got.Items, 2)
	})

	t.Run("owner edit of pending request reopens it with one entry", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)
		_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusPending, "Which model?")
		require.NoError(t, err)

		got, err := env.svc.Edit(ctx, env.requester.Actor(), dto.ID, domain.EditRequestInput{
			Description: "Desk",
			Items:       newItems,
			EditComment: "Switched to the standing model",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOpen, got.Status)
		assert.Equal(t, "Desk", got.Description)
		assert.Equal(t, "450.00", got.Amount.StringFixed(2))
		require.Len(t, got.Items, 1)
		assert.Equal(t, "Standing desk", got.Items[0].Description)

		require.Len(t, got.History, 2)
		latest := got.History[0]
		assert.Equal(t, domain.HistoryStatusChange, latest.Type)
		assert.Equal(t, domain.StatusPending, *latest.OldStatus)
		assert.Equal(t, domain.StatusOpen, *latest.NewStatus)
		assert.Equal(t, "Switched to the standing model", latest.Comment)
		assert.Equal(t, env.requester.ID, latest.UserID)

		assert.Equal(t, int64(1), env.countRows(t, &domain.RequestItem{}))
	})

	t.Run("owner may not edit outside pending", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)

		_, err := env.svc.Edit(ctx, env.requester.Actor(), dto.ID, domain.EditRequestInput{
			Description: "Desk",
			Items:       newItems,
			EditComment: "change",
		})
		var aerr *domain.AuthorizationError
		assert.ErrorAs(t, err, &aerr)
	})

	t.Run("other requesters and buyers may not edit", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)
		_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusPending, "Which model?")
		require.NoError(t, err)

		for _, actor := range []*domain.User{env.other, env.buyer} {
			_, err := env.svc.Edit(ctx, actor.Actor(), dto.ID, domain.EditRequestInput{
				Description: "Desk",
				Items:       newItems,
				EditComment: "change",
			})
			var aerr *domain.AuthorizationError
			assert.ErrorAs(t, err, &aerr)
		}
	})

	t.Run("approver edit of open request changes content only", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)

		got, err := env.svc.Edit(ctx, env.approver.Actor(), dto.ID, domain.EditRequestInput{
			Description: "Desk",
			Items:       newItems,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOpen, got.Status)
		assert.Equal(t, "450.00", got.Amount.StringFixed(2))
		assert.Empty(t, got.History)
	})

	t.Run("approver edit of pending request reopens it without a comment", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)
		_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusPending, "Which model?")
		require.NoError(t, err)

		got, err := env.svc.Edit(ctx, env.admin.Actor(), dto.ID, domain.EditRequestInput{
			Description: "Desk",
			Items:       newItems,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOpen, got.Status)
		assert.Len(t, got.History, 2)
	})

	t.Run("edit keeps amount equal to the item totals", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)

		got, err := env.svc.Edit(ctx, env.approver.Actor(), dto.ID, domain.EditRequestInput{
			Description: "Mixed",
			Items: []domain.ItemInput{
				testutil.Item("A", 3, "0.333"),
				testutil.Item("B", 7, "1.10"),
			},
		})
		require.NoError(t, err)

		sum := decimal.Zero
		for _, item := range got.Items {
			sum = sum.Add(item.Total)
		}
		assert.Equal(t, sum.StringFixed(2), got.Amount.StringFixed(2))
		assert.Equal(t, "8.69", got.Amount.StringFixed(2))
	})

	t.Run("edit with no items is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)

		_, err := env.svc.Edit(ctx, env.approver.Actor(), dto.ID, domain.EditRequestInput{Description: "Desk"})
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestRequestService_MarkPurchased(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	approved := func(t *testing.T, env *testEnv) *domain.PurchaseRequestDTO {
		dto := env.submit(t, env.requester)
		got, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusApproved, "")
		require.NoError(t, err)
		return got
	}

	t.Run("missing delivery date for any item fails", func(t *testing.T) {
		env := newTestEnv(t)
		dto := approved(t, env)

		dates := map[uuid.UUID]time.Time{dto.Items[0].ID: date}
		_, err := env.svc.MarkPurchased(ctx, env.buyer.Actor(), dto.ID, dates)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "deliveryDates", verr.Field)

		dates[dto.Items[1].ID] = time.Time{}
		_, err = env.svc.MarkPurchased(ctx, env.buyer.Actor(), dto.ID, dates)
		assert.ErrorAs(t, err, &verr)

		got, err := env.svc.GetByID(ctx, env.buyer.Actor(), dto.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, got.Status)
		for _, item := range got.Items {
			assert.Empty(t, item.EstimatedDeliveryDate)
		}
	})

	t.Run("all items dated moves request to purchased", func(t *testing.T) {
		env := newTestEnv(t)
		dto := approved(t, env)

		got, err := env.svc.MarkPurchased(ctx, env.buyer.Actor(), dto.ID, deliveryDates(dto, date))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPurchased, got.Status)
		for _, item := range got.Items {
			assert.Equal(t, "2024-03-15", item.EstimatedDeliveryDate)
		}
		require.Len(t, got.History, 2)
		assert.Equal(t, domain.StatusApproved, *got.History[0].OldStatus)
		assert.Equal(t, domain.StatusPurchased, *got.History[0].NewStatus)

		emails := env.queue.all()
		email := emails[len(emails)-1]
		assert.Equal(t, domain.NotificationPurchased, email.Type)
		assert.Equal(t, []string{env.requester.Email}, email.To)
		assert.Equal(t, "2024-03-15", email.Request.Items[0].EstimatedDelivery)
	})

	t.Run("extra ids in the date map are ignored", func(t *testing.T) {
		env := newTestEnv(t)
		dto := approved(t, env)
		dates := deliveryDates(dto, date)
		dates[uuid.New()] = date

		got, err := env.svc.MarkPurchased(ctx, env.admin.Actor(), dto.ID, dates)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPurchased, got.Status)
	})

	t.Run("request must be approved", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)

		_, err := env.svc.MarkPurchased(ctx, env.buyer.Actor(), dto.ID, deliveryDates(dto, date))
		var terr *domain.InvalidTransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, domain.StatusOpen, terr.From)
		assert.Equal(t, domain.StatusPurchased, terr.To)
	})

	t.Run("only buyers and admins may mark purchased", func(t *testing.T) {
		env := newTestEnv(t)
		dto := approved(t, env)

		for _, actor := range []*domain.User{env.requester, env.approver} {
			_, err := env.svc.MarkPurchased(ctx, actor.Actor(), dto.ID, deliveryDates(dto, date))
			var aerr *domain.AuthorizationError
			assert.ErrorAs(t, err, &aerr)
		}
	})

	t.Run("purchased is terminal", func(t *testing.T) {
		env := newTestEnv(t)
		dto := approved(t, env)
		_, err := env.svc.MarkPurchased(ctx, env.buyer.Actor(), dto.ID, deliveryDates(dto, date))
		require.NoError(t, err)

		_, err = env.svc.MarkPurchased(ctx, env.buyer.Actor(), dto.ID, deliveryDates(dto, date))
		var terr *domain.InvalidTransitionError
		assert.ErrorAs(t, err, &terr)
	})
}

func TestRequestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	created, err := env.svc.Submit(ctx, env.requester.Actor(), domain.SubmitRequestInput{
		Description: "Office furniture",
		Items: []domain.ItemInput{
			testutil.Item("Chair", 2, "10.00"),
			testutil.Item("Cushion", 3, "5.00"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "35.00", created.Amount.StringFixed(2))

	_, err = env.svc.Decide(ctx, env.approver.Actor(), created.ID, domain.StatusApproved, "")
	require.NoError(t, err)

	dates := map[uuid.UUID]time.Time{
		created.Items[0].ID: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		created.Items[1].ID: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	}
	_, err = env.svc.MarkPurchased(ctx, env.buyer.Actor(), created.ID, dates)
	require.NoError(t, err)

	final, err := env.svc.GetByID(ctx, env.requester.Actor(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPurchased, final.Status)
	require.Len(t, final.Items, 2)
	assert.Equal(t, "2024-03-15", final.Items[0].EstimatedDeliveryDate)
	assert.Equal(t, "2024-03-20", final.Items[1].EstimatedDeliveryDate)

	var approvals []domain.HistoryEntryDTO
	for _, entry := range final.History {
		if *entry.OldStatus == domain.StatusOpen && *entry.NewStatus == domain.StatusApproved {
			approvals = append(approvals, entry)
		}
	}
	assert.Len(t, approvals, 1)
	assert.Equal(t, domain.StatusPurchased, *final.History[0].NewStatus)
	assert.False(t, final.Permissions.CanEdit)
	assert.False(t, final.Permissions.CanMarkPurchased)
}

func TestRequestService_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("sequential store reports the committed steps", func(t *testing.T) {
		env := newTestEnvWithRunner(t, repository.NewSequentialRunner())
		dto := env.submit(t, env.requester)
		emailsBefore := len(env.queue.all())
		failInserts(t, env.db, "notifications")

		_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusRejected, "Over budget")
		var serr *domain.StoreError
		require.ErrorAs(t, err, &serr)
		assert.True(t, serr.Partial())
		assert.Equal(t, "decide", serr.Op)
		assert.Equal(t, "notifications", serr.Step)
		assert.Equal(t, []string{"status", "history"}, serr.Committed)
		assert.Contains(t, serr.Error(), "already recorded: status, history")

		var stored domain.PurchaseRequest
		require.NoError(t, env.db.First(&stored, "id = ?", dto.ID).Error)
		assert.Equal(t, domain.StatusRejected, stored.Status)

		var entries int64
		require.NoError(t, env.db.Model(&domain.HistoryEntry{}).Where("request_id = ?", dto.ID).Count(&entries).Error)
		assert.Equal(t, int64(1), entries)
		assert.Len(t, env.queue.all(), emailsBefore)
	})

	t.Run("sequential purchase failure lists status, items and history", func(t *testing.T) {
		env := newTestEnvWithRunner(t, repository.NewSequentialRunner())
		dto := env.submit(t, env.requester)
		_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusApproved, "")
		require.NoError(t, err)
		failInserts(t, env.db, "notifications")

		_, err = env.svc.MarkPurchased(ctx, env.buyer.Actor(), dto.ID, deliveryDates(dto, time.Now()))
		var serr *domain.StoreError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, []string{"status", "items", "history"}, serr.Committed)
	})

	t.Run("transactional store rolls back every step", func(t *testing.T) {
		env := newTestEnv(t)
		dto := env.submit(t, env.requester)
		failInserts(t, env.db, "notifications")

		_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusRejected, "Over budget")
		var serr *domain.StoreError
		require.ErrorAs(t, err, &serr)
		assert.False(t, serr.Partial())
		assert.Equal(t, "notifications", serr.Step)

		got, err := env.svc.GetByID(ctx, env.approver.Actor(), dto.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOpen, got.Status)
		assert.Empty(t, got.History)
	})

	t.Run("reload failure after commit reports every step as recorded", func(t *testing.T) {
		env := newTestEnv(t)
		restore := failQueries(t, env.db, "purchase_requests")

		_, err := env.svc.Submit(ctx, env.requester.Actor(), domain.SubmitRequestInput{
			Description: "Chairs",
			Items:       []domain.ItemInput{testutil.Item("Chair", 1, "10.00")},
		})
		restore()

		var serr *domain.StoreError
		require.ErrorAs(t, err, &serr)
		assert.True(t, serr.Partial())
		assert.Equal(t, "submit", serr.Op)
		assert.Equal(t, "reload", serr.Step)
		assert.Equal(t, []string{"request", "items", "notifications"}, serr.Committed)
		assert.Equal(t, int64(1), env.countRows(t, &domain.PurchaseRequest{}))
		assert.Equal(t, int64(1), env.countRows(t, &domain.RequestItem{}))
	})

	t.Run("transactional submit leaves no request behind", func(t *testing.T) {
		env := newTestEnv(t)
		failInserts(t, env.db, "request_items")

		_, err := env.svc.Submit(ctx, env.requester.Actor(), domain.SubmitRequestInput{
			Description: "Chairs",
			Items:       []domain.ItemInput{testutil.Item("Chair", 1, "10.00")},
		})
		var serr *domain.StoreError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "items", serr.Step)
		assert.Zero(t, env.countRows(t, &domain.PurchaseRequest{}))
		assert.Empty(t, env.queue.all())
	})
}

// Two approvers deciding at the same time are not serialized: the status field is
// last-write-wins and both decisions may be recorded in the ledger.
func TestRequestService_ConcurrentDecisionsAreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	second := testutil.CreateTestUser(t, env.db, "abby", domain.RoleApprover)
	dto := env.submit(t, env.requester)

	type outcome struct {
		decision domain.RequestStatus
		err      error
	}
	outcomes := make([]outcome, 2)
	var wg sync.WaitGroup
	start := make(chan struct{})
	decide := func(i int, actor *domain.User, decision domain.RequestStatus) {
		defer wg.Done()
		<-start
		_, err := env.svc.Decide(ctx, actor.Actor(), dto.ID, decision, "decided")
		outcomes[i] = outcome{decision: decision, err: err}
	}
	wg.Add(2)
	go decide(0, env.approver, domain.StatusApproved)
	go decide(1, second, domain.StatusRejected)
	close(start)
	wg.Wait()

	succeeded := 0
	for _, o := range outcomes {
		if o.err == nil {
			succeeded++
			continue
		}
		var terr *domain.InvalidTransitionError
		assert.True(t, errors.As(o.err, &terr), "unexpected error: %v", o.err)
	}
	require.GreaterOrEqual(t, succeeded, 1)

	final, err := env.svc.GetByID(ctx, env.admin.Actor(), dto.ID)
	require.NoError(t, err)
	assert.Contains(t, []domain.RequestStatus{domain.StatusApproved, domain.StatusRejected}, final.Status)
	assert.Len(t, final.History, succeeded)
	assert.Equal(t, final.Status, *final.History[0].NewStatus)
}

func TestRequestService_Visibility(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	own := env.submit(t, env.requester)
	othersOpen := env.submit(t, env.other)
	othersRejected := env.submit(t, env.other)
	_, err := env.svc.Decide(ctx, env.approver.Actor(), othersRejected.ID, domain.StatusRejected, "no")
	require.NoError(t, err)

	ids := func(dtos []domain.PurchaseRequestDTO) []uuid.UUID {
		out := make([]uuid.UUID, 0, len(dtos))
		for _, d := range dtos {
			out = append(out, d.ID)
		}
		return out
	}

	t.Run("requester sees only own requests", func(t *testing.T) {
		list, err := env.svc.List(ctx, env.requester.Actor(), nil)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{own.ID}, ids(list))

		_, err = env.svc.GetByID(ctx, env.requester.Actor(), othersOpen.ID)
		var aerr *domain.AuthorizationError
		assert.ErrorAs(t, err, &aerr)

		_, err = env.svc.History(ctx, env.requester.Actor(), othersOpen.ID)
		assert.ErrorAs(t, err, &aerr)
	})

	t.Run("buyer does not see rejected requests of others", func(t *testing.T) {
		list, err := env.svc.List(ctx, env.buyer.Actor(), nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{own.ID, othersOpen.ID}, ids(list))
	})

	t.Run("approver sees everything and can filter by status", func(t *testing.T) {
		list, err := env.svc.List(ctx, env.approver.Actor(), nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{own.ID, othersOpen.ID, othersRejected.ID}, ids(list))

		rejected := domain.StatusRejected
		list, err = env.svc.List(ctx, env.approver.Actor(), &rejected)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{othersRejected.ID}, ids(list))
		assert.False(t, list[0].Permissions.CanDecide)
	})

	t.Run("unknown status filter is rejected", func(t *testing.T) {
		bogus := domain.RequestStatus("lost")
		_, err := env.svc.List(ctx, env.approver.Actor(), &bogus)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("history of a rejected request holds the rejection", func(t *testing.T) {
		history, err := env.svc.History(ctx, env.approver.Actor(), othersRejected.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "no", history[0].Comment)
	})
}

func newStatuses(history []domain.HistoryEntryDTO) []domain.RequestStatus {
	out := make([]domain.RequestStatus, 0, len(history))
	for _, h := range history {
		out = append(out, *h.NewStatus)
	}
	return out
}

func TestRequestService_HistoryIsNewestFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	dto := env.submit(t, env.requester)
	_, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusPending, "Which model?")
	require.NoError(t, err)
	_, err = env.svc.Edit(ctx, env.requester.Actor(), dto.ID, domain.EditRequestInput{
		Description: "Office furniture",
		Items:       []domain.ItemInput{testutil.Item("Chair", 2, "12.00")},
		EditComment: "Picked the ergonomic model",
	})
	require.NoError(t, err)
	approved, err := env.svc.Decide(ctx, env.approver.Actor(), dto.ID, domain.StatusApproved, "")
	require.NoError(t, err)

	want := []domain.RequestStatus{domain.StatusApproved, domain.StatusOpen, domain.StatusPending}
	assert.Equal(t, want, newStatuses(approved.History))

	history, err := env.svc.History(ctx, env.requester.Actor(), dto.ID)
	require.NoError(t, err)
	assert.Equal(t, want, newStatuses(history))

	t.Run("entries sharing a timestamp keep their order", func(t *testing.T) {
		same := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, env.db.Model(&domain.HistoryEntry{}).
			Where("request_id = ?", dto.ID).
			Update("created_at", same).Error)

		history, err := env.svc.History(ctx, env.approver.Actor(), dto.ID)
		require.NoError(t, err)
		assert.Equal(t, want, newStatuses(history))

		got, err := env.svc.GetByID(ctx, env.approver.Actor(), dto.ID)
		require.NoError(t, err)
		assert.Equal(t, want, newStatuses(got.History))
	})
}
