package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/service"
	"go.uber.org/zap"
)

// ReportHandler serves dashboard counters, spend reports and exports
type ReportHandler struct {
	reportService *service.ReportService
	logger        *zap.Logger
}

func NewReportHandler(reportService *service.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reportService: reportService, logger: logger}
}

// parseReportFilter reads from, to (YYYY-MM-DD, inclusive) and userId
func parseReportFilter(r *http.Request) (domain.ReportFilter, error) {
	var filter domain.ReportFilter
	q := r.URL.Query()

	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, domain.NewValidationError("from", "must use YYYY-MM-DD")
		}
		filter.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, domain.NewValidationError("to", "must use YYYY-MM-DD")
		}
		end := to.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	if raw := q.Get("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, domain.NewValidationError("userId", "must be a valid UUID")
		}
		filter.UserID = &id
	}
	return filter, nil
}

// Stats godoc
// @Summary Dashboard counters
// @Tags Reports
// @Produce json
// @Success 200 {object} domain.StatsDTO
// @Security BearerAuth
// @Router /stats [get]
func (h *ReportHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	stats, err := h.reportService.Stats(r.Context(), actor)
	if err != nil {
		respondServiceError(w, h.logger, err, "get stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Report godoc
// @Summary Spend report
// @Tags Reports
// @Produce json
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param userId query string false "Requester" format(uuid)
// @Success 200 {object} domain.ReportDTO
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Security BearerAuth
// @Router /reports [get]
func (h *ReportHandler) Report(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	filter, err := parseReportFilter(r)
	if err != nil {
		respondServiceError(w, h.logger, err, "build report")
		return
	}
	report, err := h.reportService.Report(r.Context(), actor, filter)
	if err != nil {
		respondServiceError(w, h.logger, err, "build report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Export godoc
// @Summary Export the spend report as a spreadsheet
// @Tags Reports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param userId query string false "Requester" format(uuid)
// @Success 200 {file} file
// @Failure 403 {object} domain.APIError
// @Security BearerAuth
// @Router /reports/export [get]
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	filter, err := parseReportFilter(r)
	if err != nil {
		respondServiceError(w, h.logger, err, "export report")
		return
	}
	export, err := h.reportService.ExportXLSX(r.Context(), actor, filter)
	if err != nil {
		respondServiceError(w, h.logger, err, "export report")
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	if export.ArchivePath != "" {
		w.Header().Set(archivePathHeader, export.ArchivePath)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

// archivePathHeader names the stored copy of an export so it can be fetched again later
const archivePathHeader = "X-Archive-Path"

// ArchivedExport godoc
// @Summary Download an archived report export
// @Description The path is the X-Archive-Path returned by the export endpoint
// @Tags Reports
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param path path string true "Archive path below reports/"
// @Success 200 {file} file
// @Failure 403 {object} domain.APIError
// @Failure 404 {object} domain.APIError
// @Security BearerAuth
// @Router /reports/archive/{path} [get]
func (h *ReportHandler) ArchivedExport(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	rc, filename, err := h.reportService.ArchivedExport(r.Context(), actor, chi.URLParam(r, "*"))
	if err != nil {
		respondServiceError(w, h.logger, err, "read archived export")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", service.ExportContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream archived export", zap.String("filename", filename), zap.Error(err))
	}
}
