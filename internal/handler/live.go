package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"proctor/internal/broadcast"
)

type LiveHandler interface {
	Subscribe(c *gin.Context)
}

type liveHandler struct {
	hub            *broadcast.Hub
	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *zap.Logger
}

// NewLiveHandler serves the live websocket feed. An empty allowedOrigins
// accepts any origin.
func NewLiveHandler(hub *broadcast.Hub, allowedOrigins []string, logger *zap.Logger) LiveHandler {
	h := &liveHandler{hub: hub, allowedOrigins: allowedOrigins, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// Subscribe handles GET /ws?session_id=N. Without session_id the client
// receives messages for every session.
func (h *liveHandler) Subscribe(c *gin.Context) {
	var sessionID int64
	if raw := c.Query("session_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session_id"})
			return
		}
		sessionID = id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	broadcast.NewClient(h.hub, conn, sessionID).Start()
	h.logger.Debug("Live client connected", zap.Int64("session_id", sessionID))
}

func (h *liveHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("Websocket connection rejected from unauthorized origin", zap.String("origin", strconv.Quote(origin)))
	return false
}
