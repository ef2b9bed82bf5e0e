package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"proctor/internal/detection_processor"
)

func TestErrorBody(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		retryable bool
	}{
		{fmt.Errorf("%w: 7", detection_processor.ErrSessionNotFound), http.StatusNotFound, false},
		{fmt.Errorf("%w: 7", detection_processor.ErrEventNotFound), http.StatusNotFound, false},
		{fmt.Errorf("%w: 7", detection_processor.ErrAlertNotFound), http.StatusNotFound, false},
		{fmt.Errorf("%w: session 7 is PAUSED", detection_processor.ErrSessionNotActive), http.StatusConflict, false},
		{fmt.Errorf("%w: ACTIVE -> PENDING", detection_processor.ErrInvalidTransition), http.StatusConflict, false},
		{fmt.Errorf("%w: name is required", detection_processor.ErrInvalidInput), http.StatusBadRequest, false},
		{fmt.Errorf("%w: save: %w", detection_processor.ErrPersistence, errors.New("conn reset")), http.StatusServiceUnavailable, true},
		{errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, body := errorBody(tt.err)
			if status != tt.status {
				t.Fatalf("status = %d, want %d", status, tt.status)
			}
			_, retryable := body["retryable"]
			if retryable != tt.retryable {
				t.Fatalf("retryable = %v, want %v", retryable, tt.retryable)
			}
			if tt.status == http.StatusServiceUnavailable && body["error"] == tt.err.Error() {
				t.Fatal("storage error details leaked to the client")
			}
		})
	}
}

func TestIDParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, raw := range []string{"abc", "0", "-3"} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "id", Value: raw}}
		if _, ok := idParam(c, "id"); ok || w.Code != http.StatusBadRequest {
			t.Errorf("idParam(%q) accepted, status %d", raw, w.Code)
		}
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Params = gin.Params{{Key: "id", Value: "12"}}
	if id, ok := idParam(c, "id"); !ok || id != 12 {
		t.Fatalf("idParam(12) = %d, %v", id, ok)
	}
}
