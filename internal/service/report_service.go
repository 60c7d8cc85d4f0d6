package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/policy"
	"github.com/straye-as/purchase-api/internal/pricing"
	"github.com/straye-as/purchase-api/internal/repository"
	"github.com/straye-as/purchase-api/internal/storage"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	reportSheet         = "Requests"
	reportArchivePrefix = "reports/"
)

// ExportContentType is the media type of report exports
const ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportService computes dashboard counters and spend reports
type ReportService struct {
	requestRepo *repository.RequestRepository
	archive     storage.Storage
	logger      *zap.Logger
	now         func() time.Time
}

// NewReportService creates a new ReportService. archive may be nil, in which case
// exports are only returned to the caller.
func NewReportService(requestRepo *repository.RequestRepository, archive storage.Storage, logger *zap.Logger) *ReportService {
	return &ReportService{
		requestRepo: requestRepo,
		archive:     archive,
		logger:      logger,
		now:         time.Now,
	}
}

// requestAmount prefers the item aggregate and falls back to the stored amount for
// requests that carry no items
func requestAmount(req *domain.PurchaseRequest) decimal.Decimal {
	amount := req.Amount
	return pricing.ResolveAmount(req.Items, &amount)
}

// Stats returns the dashboard counters over the requests visible to the actor
func (s *ReportService) Stats(ctx context.Context, actor domain.Actor) (*domain.StatsDTO, error) {
	filter := repository.RequestFilter{}
	if actor.Role == domain.RoleRequester {
		filter.OwnerID = &actor.ID
	}
	all, err := s.requestRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	stats := &domain.StatsDTO{TotalSpend: decimal.Zero}
	for _, req := range policy.VisibleRequests(actor, all) {
		switch req.Status {
		case domain.StatusOpen:
			stats.Pending++
		case domain.StatusApproved:
			stats.Approved++
			stats.TotalSpend = stats.TotalSpend.Add(requestAmount(&req))
		}
	}
	return stats, nil
}

func (s *ReportService) load(ctx context.Context, actor domain.Actor, filter domain.ReportFilter) ([]domain.PurchaseRequest, error) {
	if !policy.CanViewReports(actor) {
		return nil, &domain.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: "view reports"}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, domain.NewValidationError("to", "must not be before from")
	}
	requests, err := s.requestRepo.List(ctx, repository.RequestFilter{
		OwnerID: filter.UserID,
		From:    filter.From,
		To:      filter.To,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// Report aggregates spend KPIs for approvers and admins
func (s *ReportService) Report(ctx context.Context, actor domain.Actor, filter domain.ReportFilter) (*domain.ReportDTO, error) {
	requests, err := s.load(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	return summarize(requests), nil
}

func summarize(requests []domain.PurchaseRequest) *domain.ReportDTO {
	report := &domain.ReportDTO{
		RequestCount:       len(requests),
		TotalSpent:         decimal.Zero,
		StatusDistribution: make(map[domain.RequestStatus]int),
		SpendByDepartment:  []domain.DepartmentSpend{},
	}

	byDepartment := make(map[string]decimal.Decimal)
	for i := range requests {
		req := &requests[i]
		report.StatusDistribution[req.Status]++
		if req.Status != domain.StatusPurchased {
			continue
		}
		amount := requestAmount(req)
		report.TotalSpent = report.TotalSpent.Add(amount)
		dept := req.Department
		if dept == "" {
			dept = "Unassigned"
		}
		byDepartment[dept] = byDepartment[dept].Add(amount)
	}

	for dept, amount := range byDepartment {
		report.SpendByDepartment = append(report.SpendByDepartment, domain.DepartmentSpend{Department: dept, Amount: amount})
	}
	sort.Slice(report.SpendByDepartment, func(i, j int) bool {
		a, b := report.SpendByDepartment[i], report.SpendByDepartment[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.Department < b.Department
	})

	granted := report.StatusDistribution[domain.StatusApproved] + report.StatusDistribution[domain.StatusPurchased]
	decided := granted + report.StatusDistribution[domain.StatusRejected]
	if decided > 0 {
		rate, _ := decimal.NewFromInt(int64(granted * 100)).
			Div(decimal.NewFromInt(int64(decided))).
			Round(1).
			Float64()
		report.ApprovalRate = rate
	}
	return report
}

// Export is a generated workbook
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
	// ArchivePath is set when a copy was stored
	ArchivePath string
}

var exportHeaders = []string{"PO Number", "Created", "Requester", "Department", "Description", "Priority", "Status", "Items", "Amount"}

var exportWidths = []float64{22, 12, 24, 18, 48, 10, 12, 8, 14}

// ExportXLSX renders the report input as a workbook, one row per request
func (s *ReportService) ExportXLSX(ctx context.Context, actor domain.Actor, filter domain.ReportFilter) (*Export, error) {
	requests, err := s.load(ctx, actor, filter)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return nil, fmt.Errorf("failed to prepare sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "#000000", Style: 1},
		},
	})
	moneyStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4})

	for i, h := range exportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := fmt.Sprintf("%s1", col)
		f.SetCellValue(reportSheet, cell, h)
		f.SetCellStyle(reportSheet, cell, cell, headerStyle)
	}

	row := 2
	for i := range requests {
		req := &requests[i]
		requester := ""
		if req.User != nil {
			requester = req.User.Name
		}
		amount, _ := requestAmount(req).Float64()
		f.SetCellValue(reportSheet, fmt.Sprintf("A%d", row), req.PONumber())
		f.SetCellValue(reportSheet, fmt.Sprintf("B%d", row), req.CreatedAt.Format("2006-01-02"))
		f.SetCellValue(reportSheet, fmt.Sprintf("C%d", row), requester)
		f.SetCellValue(reportSheet, fmt.Sprintf("D%d", row), req.Department)
		f.SetCellValue(reportSheet, fmt.Sprintf("E%d", row), req.Description)
		f.SetCellValue(reportSheet, fmt.Sprintf("F%d", row), string(req.Priority))
		f.SetCellValue(reportSheet, fmt.Sprintf("G%d", row), string(req.Status))
		f.SetCellValue(reportSheet, fmt.Sprintf("H%d", row), len(req.Items))
		f.SetCellValue(reportSheet, fmt.Sprintf("I%d", row), amount)
		f.SetCellStyle(reportSheet, fmt.Sprintf("I%d", row), fmt.Sprintf("I%d", row), moneyStyle)
		row++
	}

	summary := summarize(requests)
	spent, _ := summary.TotalSpent.Float64()
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		NumFmt: 4,
	})
	f.SetCellValue(reportSheet, fmt.Sprintf("A%d", row), "Total purchased")
	f.SetCellValue(reportSheet, fmt.Sprintf("E%d", row), fmt.Sprintf("%d requests, approval rate %.1f%%", summary.RequestCount, summary.ApprovalRate))
	f.SetCellValue(reportSheet, fmt.Sprintf("I%d", row), spent)
	f.SetCellStyle(reportSheet, fmt.Sprintf("A%d", row), fmt.Sprintf("I%d", row), summaryStyle)

	for i, w := range exportWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(reportSheet, col, col, w)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	now := s.now()
	export := &Export{
		Filename:    fmt.Sprintf("purchase-report-%s.xlsx", now.UTC().Format("20060102-150405")),
		ContentType: ExportContentType,
		Data:        buf.Bytes(),
	}

	if s.archive != nil {
		key := storage.ArchiveKey(strings.TrimSuffix(reportArchivePrefix, "/"), export.Filename, now)
		stored, _, err := s.archive.Put(ctx, key, export.ContentType, bytes.NewReader(export.Data))
		if err != nil {
			s.logger.Warn("failed to archive report export", zap.String("key", key), zap.Error(err))
		} else {
			export.ArchivePath = stored
		}
	}

	s.logger.Info("report exported",
		zap.String("user_id", actor.ID.String()),
		zap.Int("rows", len(requests)))

	return export, nil
}

// ArchivedExport opens a previously archived report export. Only keys below reports/
// can be read here; archived emails stay out of reach.
func (s *ReportService) ArchivedExport(ctx context.Context, actor domain.Actor, archivePath string) (io.ReadCloser, string, error) {
	if !policy.CanViewReports(actor) {
		return nil, "", &domain.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: "view reports"}
	}
	clean := path.Clean("/" + archivePath)[1:]
	if s.archive == nil || !strings.HasPrefix(clean, reportArchivePrefix) || clean != archivePath {
		return nil, "", ErrExportNotFound
	}
	rc, err := s.archive.Get(ctx, clean)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrExportNotFound
		}
		return nil, "", fmt.Errorf("failed to read archived export: %w", err)
	}
	return rc, path.Base(clean), nil
}
