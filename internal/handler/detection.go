package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"proctor/internal/detection_processor"
)

type DetectionHandler interface {
	ProcessBatch(c *gin.Context)
	ReconcileHeadcount(c *gin.Context)
	ListEvents(c *gin.Context)
	ListScores(c *gin.Context)
	SessionStats(c *gin.Context)
	ResolveEvent(c *gin.Context)
}

type detectionHandler struct {
	processor *detection_processor.Processor
	logger    *zap.Logger
}

func NewDetectionHandler(processor *detection_processor.Processor, logger *zap.Logger) DetectionHandler {
	return &detectionHandler{processor: processor, logger: logger}
}

type SessionHeadcountRequest struct {
	SessionID int64 `json:"session_id" binding:"required"`
	Detected  *int  `json:"detected" binding:"required"`
}

// ProcessBatch handles POST /api/detect/process. When processing stops part
// way the detections already recorded are returned under "partial".
func (h *detectionHandler) ProcessBatch(c *gin.Context) {
	var batch detection_processor.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if batch.SessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	batch.Source = "http"

	result, err := h.processor.ProcessBatch(c.Request.Context(), batch)
	if err != nil {
		status, body := errorBody(err)
		if result != nil {
			body["partial"] = result
		}
		if status >= http.StatusInternalServerError {
			h.logger.Error("Detection batch failed", zap.Int64("session_id", batch.SessionID), zap.Error(err))
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ReconcileHeadcount handles POST /api/detect/headcount
func (h *detectionHandler) ReconcileHeadcount(c *gin.Context) {
	var req SessionHeadcountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	events, err := h.processor.ReconcileHeadcount(c.Request.Context(), req.SessionID, *req.Detected)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": req.SessionID, "detected": *req.Detected, "events": events})
}

// ListEvents handles GET /api/detect/events/:sessionId
func (h *detectionHandler) ListEvents(c *gin.Context) {
	id, ok := idParam(c, "sessionId")
	if !ok {
		return
	}
	events, err := h.processor.ListEvents(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// ListScores handles GET /api/detect/scores/:sessionId
func (h *detectionHandler) ListScores(c *gin.Context) {
	id, ok := idParam(c, "sessionId")
	if !ok {
		return
	}
	scores, err := h.processor.ListScores(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, scores)
}

// SessionStats handles GET /api/detect/stats/:sessionId
func (h *detectionHandler) SessionStats(c *gin.Context) {
	id, ok := idParam(c, "sessionId")
	if !ok {
		return
	}
	stats, err := h.processor.SessionStats(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ResolveEvent handles PUT /api/events/:id/resolve
func (h *detectionHandler) ResolveEvent(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.processor.ResolveEvent(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
}
