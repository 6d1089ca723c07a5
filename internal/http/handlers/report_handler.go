// Report HTTP handlers.
//
// Endpoints for scam reports:
//   - POST /reports   (file a report)
//   - GET  /reports   (moderator, optional status filter)
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zrx-market/go-market-backend/internal/domain"
	"github.com/zrx-market/go-market-backend/internal/services"
)

// ReportService defines scam-report operations consumed by HTTP handlers.
type ReportService interface {
	// Create files a new report in pending status.
	Create(ctx context.Context, in services.CreateReportInput) (*domain.Report, error)
	// List returns reports, optionally filtered by status.
	List(ctx context.Context, status string) ([]domain.Report, error)
}

// CreateReportRequest is the JSON payload for filing a report.
type CreateReportRequest struct {
	// AccusedID is the Discord id of the reported user.
	AccusedID string `json:"accusedId" binding:"required" example:"447812398121484289"`
	// Details describes what happened.
	Details string `json:"details" binding:"required" example:"Took the item and left the server"`
	// Evidence lists evidence URLs.
	Evidence []string `json:"evidence"`
}

// CreateReport godoc
// @ID          createReport
// @Summary     File a scam report
// @Description Files a report against another user in pending status.
// @Tags        Reports
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false  "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateReportRequest  true  "Report payload"
//
// @Success     201  {object}  domain.Report
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /reports [post]
func (h *Handlers) CreateReport(c *gin.Context) {
	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "invalid JSON body")
		return
	}

	r, err := h.reportSvc.Create(c.Request.Context(), services.CreateReportInput{
		ReporterID: userID(c),
		AccusedID:  req.AccusedID,
		Details:    req.Details,
		Evidence:   req.Evidence,
	})
	if err != nil {
		if errors.Is(err, services.ErrMissingAccused) || errors.Is(err, services.ErrMissingDetails) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusCreated, r)
}

// ListReports godoc
// @ID          listReports
// @Summary     List scam reports
// @Description Returns reports, optionally filtered by status.
// @Tags        Reports
// @Produce     json
//
// @Param       X-User-Role  header  string  true   "Caller role"    example(moderator)
// @Param       status       query   string  false  "Status filter"  example(pending)
//
// @Success     200  {array}   domain.Report
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /reports [get]
func (h *Handlers) ListReports(c *gin.Context) {
	if !requireModerator(c) {
		return
	}
	items, err := h.reportSvc.List(c.Request.Context(), strings.TrimSpace(c.Query("status")))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}
