package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"proctor/internal/broadcast"
	"proctor/internal/config"
	"proctor/internal/detection"
	"proctor/internal/detection_processor"
	"proctor/internal/handler"
	"proctor/internal/middleware"
	"proctor/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Deps are the components the HTTP layer serves. Hub may be nil when live
// broadcast is disabled.
type Deps struct {
	Processor *detection_processor.Processor
	Points    detection.PointTable
	Auth      service.AuthService
	Reports   service.ReportService
	Hub       *broadcast.Hub
}

type Server struct {
	router *gin.Engine
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger
}

func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		router.Use(middleware.Metrics())
	}

	s := &Server{
		router: router,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}

	s.setupRoutes()

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	sessionHandler := handler.NewSessionHandler(s.deps.Processor, s.logger)
	detectionHandler := handler.NewDetectionHandler(s.deps.Processor, s.logger)
	alertHandler := handler.NewAlertHandler(s.deps.Processor, s.logger)
	reportHandler := handler.NewReportHandler(s.deps.Reports, s.logger)
	authHandler := handler.NewAuthHandler(s.deps.Auth, s.logger)
	settingsHandler := handler.NewSettingsHandler(s.cfg, s.deps.Points)

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if s.cfg.Metrics.Enabled {
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Authentication routes
	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	protected := s.router.Group("")
	if s.cfg.Auth.Enabled {
		protected.Use(middleware.AuthMiddleware(s.deps.Auth, s.logger))
	} else {
		s.logger.Warn("Authentication is disabled; every API route is public")
	}

	api := protected.Group("/api")
	api.POST("/auth/logout", authHandler.Logout)

	sessions := api.Group("/sessions")
	{
		sessions.POST("", sessionHandler.CreateSession)
		sessions.GET("", sessionHandler.ListSessions)
		sessions.GET("/active", sessionHandler.ListActiveSessions)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.DELETE("/:id", sessionHandler.DeleteSession)
		sessions.POST("/:id/start", sessionHandler.StartSession)
		sessions.POST("/:id/pause", sessionHandler.PauseSession)
		sessions.POST("/:id/resume", sessionHandler.ResumeSession)
		sessions.POST("/:id/end", sessionHandler.EndSession)
		sessions.POST("/:id/cancel", sessionHandler.CancelSession)
		sessions.PUT("/:id/headcount", sessionHandler.UpdateHeadcount)
	}

	detect := api.Group("/detect")
	{
		detect.POST("/process", detectionHandler.ProcessBatch)
		detect.POST("/headcount", detectionHandler.ReconcileHeadcount)
		detect.GET("/events/:sessionId", detectionHandler.ListEvents)
		detect.GET("/scores/:sessionId", detectionHandler.ListScores)
		detect.GET("/stats/:sessionId", detectionHandler.SessionStats)
	}
	api.PUT("/events/:id/resolve", detectionHandler.ResolveEvent)

	api.GET("/alerts/:sessionId", alertHandler.ListAlerts)
	api.PUT("/alerts/:id/acknowledge", alertHandler.AcknowledgeAlert)

	api.GET("/reports/dashboard", reportHandler.Dashboard)
	api.GET("/reports/:sessionId", reportHandler.SessionReport)

	api.GET("/settings", settingsHandler.GetSettings)

	if s.deps.Hub != nil {
		liveHandler := handler.NewLiveHandler(s.deps.Hub, s.cfg.Broadcast.AllowedOrigins, s.logger)
		protected.GET("/ws", liveHandler.Subscribe)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
