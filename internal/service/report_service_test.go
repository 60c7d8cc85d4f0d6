package service_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/repository"
	"github.com/straye-as/purchase-api/internal/service"
	"github.com/straye-as/purchase-api/internal/storage"
	"github.com/straye-as/purchase-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// seedReportData creates one request per status for the requester:
// open 35.00, approved 20.00, rejected 35.00, purchased 12.50
func seedReportData(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()

	env.submit(t, env.requester)

	approved := env.submit(t, env.requester, testutil.Item("Monitor", 1, "20.00"))
	_, err := env.svc.Decide(ctx, env.approver.Actor(), approved.ID, domain.StatusApproved, "")
	require.NoError(t, err)

	rejected := env.submit(t, env.requester)
	_, err = env.svc.Decide(ctx, env.approver.Actor(), rejected.ID, domain.StatusRejected, "no budget")
	require.NoError(t, err)

	purchased := env.submit(t, env.requester, testutil.Item("Cable", 5, "2.50"))
	_, err = env.svc.Decide(ctx, env.approver.Actor(), purchased.ID, domain.StatusApproved, "")
	require.NoError(t, err)
	_, err = env.svc.MarkPurchased(ctx, env.buyer.Actor(), purchased.ID, deliveryDates(purchased, time.Now().AddDate(0, 0, 7)))
	require.NoError(t, err)
}

func TestReportService_Stats(t *testing.T) {
	env := newTestEnv(t)
	seedReportData(t, env)
	svc := service.NewReportService(repository.NewRequestRepository(env.db), nil, zap.NewNop())
	ctx := context.Background()

	stats, err := svc.Stats(ctx, env.approver.Actor())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Approved)
	assert.Equal(t, "20.00", stats.TotalSpend.StringFixed(2))

	stats, err = svc.Stats(ctx, env.other.Actor())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Approved)
	assert.True(t, stats.TotalSpend.IsZero())
}

func TestReportService_Report(t *testing.T) {
	env := newTestEnv(t)
	seedReportData(t, env)
	svc := service.NewReportService(repository.NewRequestRepository(env.db), nil, zap.NewNop())
	ctx := context.Background()

	report, err := svc.Report(ctx, env.admin.Actor(), domain.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, report.RequestCount)
	assert.Equal(t, "12.50", report.TotalSpent.StringFixed(2))
	// approved + purchased over approved + purchased + rejected
	assert.InDelta(t, 66.7, report.ApprovalRate, 0.001)
	assert.Equal(t, map[domain.RequestStatus]int{
		domain.StatusOpen:      1,
		domain.StatusApproved:  1,
		domain.StatusRejected:  1,
		domain.StatusPurchased: 1,
	}, report.StatusDistribution)
	require.Len(t, report.SpendByDepartment, 1)
	assert.Equal(t, "Operations", report.SpendByDepartment[0].Department)

	t.Run("requesters and buyers are refused", func(t *testing.T) {
		var authErr *domain.AuthorizationError
		_, err := svc.Report(ctx, env.requester.Actor(), domain.ReportFilter{})
		assert.ErrorAs(t, err, &authErr)
		_, err = svc.Report(ctx, env.buyer.Actor(), domain.ReportFilter{})
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("user filter", func(t *testing.T) {
		report, err := svc.Report(ctx, env.approver.Actor(), domain.ReportFilter{UserID: &env.other.ID})
		require.NoError(t, err)
		assert.Zero(t, report.RequestCount)
		assert.Zero(t, report.ApprovalRate)
		assert.Empty(t, report.SpendByDepartment)
	})

	t.Run("inverted range is a validation error", func(t *testing.T) {
		from := time.Now()
		to := from.Add(-time.Hour)
		_, err := svc.Report(ctx, env.approver.Actor(), domain.ReportFilter{From: &from, To: &to})
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestReportService_StoredAmountWithoutItems(t *testing.T) {
	env := newTestEnv(t)
	legacy := &domain.PurchaseRequest{
		UserID:      env.requester.ID,
		Description: "Imported request",
		Department:  "Finance",
		Amount:      decimal.RequireFromString("99.95"),
		Status:      domain.StatusPurchased,
		Priority:    domain.PriorityMedium,
	}
	require.NoError(t, env.db.Omit("Items", "History", "User").Create(legacy).Error)

	svc := service.NewReportService(repository.NewRequestRepository(env.db), nil, zap.NewNop())
	report, err := svc.Report(context.Background(), env.admin.Actor(), domain.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, "99.95", report.TotalSpent.StringFixed(2))
	require.Len(t, report.SpendByDepartment, 1)
	assert.Equal(t, "Finance", report.SpendByDepartment[0].Department)
}

func TestReportService_ExportXLSX(t *testing.T) {
	env := newTestEnv(t)
	seedReportData(t, env)
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := service.NewReportService(repository.NewRequestRepository(env.db), archive, zap.NewNop())
	ctx := context.Background()

	export, err := svc.ExportXLSX(ctx, env.approver.Actor(), domain.ReportFilter{})
	require.NoError(t, err)
	assert.Regexp(t, `^purchase-report-\d{8}-\d{6}\.xlsx$`, export.Filename)
	require.NotEmpty(t, export.ArchivePath)

	f, err := excelize.OpenReader(bytes.NewReader(export.Data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Requests")
	require.NoError(t, err)
	// header, four requests, summary
	require.Len(t, rows, 6)
	assert.Equal(t, "PO Number", rows[0][0])
	assert.Equal(t, "Total purchased", rows[5][0])

	stored, err := archive.Get(ctx, export.ArchivePath)
	require.NoError(t, err)
	defer stored.Close()
	data, err := io.ReadAll(stored)
	require.NoError(t, err)
	assert.Equal(t, export.Data, data)

	again, name, err := svc.ArchivedExport(ctx, env.admin.Actor(), export.ArchivePath)
	require.NoError(t, err)
	defer again.Close()
	assert.True(t, strings.HasSuffix(name, export.Filename), name)

	_, _, err = svc.ArchivedExport(ctx, env.admin.Actor(), "reports/2024/01/missing.xlsx")
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, _, err = svc.ArchivedExport(ctx, env.admin.Actor(), "emails/2024/01/message.html")
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = svc.ExportXLSX(ctx, env.buyer.Actor(), domain.ReportFilter{})
	var authErr *domain.AuthorizationError
	assert.ErrorAs(t, err, &authErr)
	_, _, err = svc.ArchivedExport(ctx, env.buyer.Actor(), export.ArchivePath)
	assert.ErrorAs(t, err, &authErr)
}
