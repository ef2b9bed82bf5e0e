package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"proctor/internal/metrics"
	"proctor/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubParser map[string]error

func (p stubParser) ParseToken(token string) (*models.Claims, error) {
	err, ok := p[token]
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}
	if err != nil {
		return nil, err
	}
	return &models.Claims{Username: "alice", Role: "admin"}, nil
}

func TestAuthMiddleware(t *testing.T) {
	parser := stubParser{
		"good":    nil,
		"expired": fmt.Errorf("token has invalid claims: %w", jwt.ErrTokenExpired),
	}
	router := gin.New()
	router.Use(AuthMiddleware(parser, zap.NewNop()))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": Username(c, "anonymous")})
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, `{"error":"Authorization header required"}`},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, `{"error":"Authorization header format must be Bearer <token>"}`},
		{"expired", "Bearer expired", http.StatusUnauthorized, `{"error":"Token expired"}`},
		{"invalid", "Bearer junk", http.StatusUnauthorized, `{"error":"Invalid token"}`},
		{"valid", "Bearer good", http.StatusOK, `{"username":"alice"}`},
	}
	t.Run("query token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token=good", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("got %d %s", w.Code, w.Body.String())
		}
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.status || w.Body.String() != tt.body {
				t.Fatalf("got %d %s, want %d %s", w.Code, w.Body.String(), tt.status, tt.body)
			}
		})
	}
}

func TestUsernameFallback(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := Username(c, "anonymous"); got != "anonymous" {
		t.Fatalf("Username = %q, want anonymous", got)
	}
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	router := gin.New()
	router.Use(Metrics())
	router.GET("/api/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/sessions/:id", "204")
	before := testutil.ToFloat64(counter)
	for _, path := range []string{"/api/sessions/1", "/api/sessions/2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Fatalf("counter advanced by %v, want 2", got)
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger(zap.NewNop()))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	id := w.Header().Get(RequestIDHeader)
	if id == "" || w.Body.String() != id {
		t.Fatalf("request id header %q, body %q", id, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) != "abc" {
		t.Fatalf("incoming request id not kept: %q", w.Header().Get(RequestIDHeader))
	}
}
