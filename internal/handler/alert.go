package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"proctor/internal/detection_processor"
	"proctor/internal/middleware"
)

type AlertHandler interface {
	ListAlerts(c *gin.Context)
	AcknowledgeAlert(c *gin.Context)
}

type alertHandler struct {
	processor *detection_processor.Processor
	logger    *zap.Logger
}

func NewAlertHandler(processor *detection_processor.Processor, logger *zap.Logger) AlertHandler {
	return &alertHandler{processor: processor, logger: logger}
}

type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// ListAlerts handles GET /api/alerts/:sessionId
func (h *alertHandler) ListAlerts(c *gin.Context) {
	id, ok := idParam(c, "sessionId")
	if !ok {
		return
	}
	alerts, err := h.processor.ListAlerts(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// AcknowledgeAlert handles PUT /api/alerts/:id/acknowledge. The acknowledger
// is the body's acknowledged_by, else the authenticated user. Only the first
// acknowledgement is kept.
func (h *alertHandler) AcknowledgeAlert(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req AcknowledgeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	by := strings.TrimSpace(req.AcknowledgedBy)
	if by == "" {
		by = middleware.Username(c, "invigilator")
	}

	alert, err := h.processor.AcknowledgeAlert(c.Request.Context(), id, by)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("Alert acknowledged", zap.Int64("alert_id", id), zap.String("by", by))
	c.JSON(http.StatusOK, alert)
}
