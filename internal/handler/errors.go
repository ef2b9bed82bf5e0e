package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"proctor/internal/detection_processor"
)

// statusFor maps processor sentinels to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, detection_processor.ErrSessionNotFound),
		errors.Is(err, detection_processor.ErrEventNotFound),
		errors.Is(err, detection_processor.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, detection_processor.ErrSessionNotActive),
		errors.Is(err, detection_processor.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, detection_processor.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, detection_processor.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the JSON error payload. Storage failures are flagged as
// retryable; unexpected errors are not echoed to the client.
func errorBody(err error) (int, gin.H) {
	status := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		return status, gin.H{"error": "storage unavailable", "retryable": true}
	case http.StatusInternalServerError:
		return status, gin.H{"error": "internal error"}
	default:
		return status, gin.H{"error": err.Error()}
	}
}

func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}

// idParam parses a positive int64 path parameter, answering 400 otherwise.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}
