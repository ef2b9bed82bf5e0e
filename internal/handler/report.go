package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"proctor/internal/service"
)

type ReportHandler interface {
	SessionReport(c *gin.Context)
	Dashboard(c *gin.Context)
}

type reportHandler struct {
	reports service.ReportService
	logger  *zap.Logger
}

func NewReportHandler(reports service.ReportService, logger *zap.Logger) ReportHandler {
	return &reportHandler{reports: reports, logger: logger}
}

// SessionReport handles GET /api/reports/:sessionId
func (h *reportHandler) SessionReport(c *gin.Context) {
	id, ok := idParam(c, "sessionId")
	if !ok {
		return
	}
	report, err := h.reports.SessionReport(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Dashboard handles GET /api/reports/dashboard
func (h *reportHandler) Dashboard(c *gin.Context) {
	dashboard, err := h.reports.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}
