package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"proctor/internal/detection_processor"
	"proctor/internal/models"
)

type SessionHandler interface {
	CreateSession(c *gin.Context)
	ListSessions(c *gin.Context)
	ListActiveSessions(c *gin.Context)
	GetSession(c *gin.Context)
	StartSession(c *gin.Context)
	PauseSession(c *gin.Context)
	ResumeSession(c *gin.Context)
	EndSession(c *gin.Context)
	CancelSession(c *gin.Context)
	DeleteSession(c *gin.Context)
	UpdateHeadcount(c *gin.Context)
}

type sessionHandler struct {
	processor *detection_processor.Processor
	logger    *zap.Logger
}

func NewSessionHandler(processor *detection_processor.Processor, logger *zap.Logger) SessionHandler {
	return &sessionHandler{processor: processor, logger: logger}
}

type CreateSessionRequest struct {
	Name          string `json:"name" binding:"required"`
	ExpectedCount *int   `json:"expected_count"`
	StreamURL     string `json:"stream_url"`
}

type StartSessionRequest struct {
	StreamURL string `json:"stream_url"`
}

type HeadcountRequest struct {
	Detected *int `json:"detected" binding:"required"`
}

// CreateSession handles POST /api/sessions
func (h *sessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.processor.CreateSession(c.Request.Context(), req.Name, req.ExpectedCount, req.StreamURL)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions handles GET /api/sessions
func (h *sessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.processor.ListSessions(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// ListActiveSessions handles GET /api/sessions/active
func (h *sessionHandler) ListActiveSessions(c *gin.Context) {
	sessions, err := h.processor.ListActiveSessions(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetSession handles GET /api/sessions/:id
func (h *sessionHandler) GetSession(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	session, err := h.processor.GetSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// StartSession handles POST /api/sessions/:id/start with an optional
// {"stream_url": "..."} body.
func (h *sessionHandler) StartSession(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req StartSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	h.respondSession(c, func() (*models.Session, error) {
		return h.processor.StartSession(c.Request.Context(), id, req.StreamURL)
	})
}

// PauseSession handles POST /api/sessions/:id/pause
func (h *sessionHandler) PauseSession(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.respondSession(c, func() (*models.Session, error) {
		return h.processor.PauseSession(c.Request.Context(), id)
	})
}

// ResumeSession handles POST /api/sessions/:id/resume
func (h *sessionHandler) ResumeSession(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.respondSession(c, func() (*models.Session, error) {
		return h.processor.ResumeSession(c.Request.Context(), id)
	})
}

// EndSession handles POST /api/sessions/:id/end
func (h *sessionHandler) EndSession(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.respondSession(c, func() (*models.Session, error) {
		return h.processor.EndSession(c.Request.Context(), id)
	})
}

// CancelSession handles POST /api/sessions/:id/cancel
func (h *sessionHandler) CancelSession(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.respondSession(c, func() (*models.Session, error) {
		return h.processor.CancelSession(c.Request.Context(), id)
	})
}

// DeleteSession handles DELETE /api/sessions/:id
func (h *sessionHandler) DeleteSession(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.processor.DeleteSession(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateHeadcount handles PUT /api/sessions/:id/headcount, reconciling a
// manually entered count the same way a pipeline headcount is.
func (h *sessionHandler) UpdateHeadcount(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req HeadcountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	events, err := h.processor.ReconcileHeadcount(c.Request.Context(), id, *req.Detected)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "detected": *req.Detected, "events": events})
}

func (h *sessionHandler) respondSession(c *gin.Context, op func() (*models.Session, error)) {
	session, err := op()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
