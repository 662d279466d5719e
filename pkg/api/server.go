// Package api exposes run history and manual triggers over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"testbot/pkg/api/middleware"
	"testbot/pkg/auth"
	"testbot/pkg/coordination"
	"testbot/pkg/logger"
	"testbot/pkg/models"
	"testbot/pkg/scheduler"
	"testbot/pkg/storage"
)

// PassTrigger starts passes on demand and reports scheduler state.
type PassTrigger interface {
	TriggerAsync(ctx context.Context, trigger string) error
	Status() scheduler.Status
}

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	logger     *zap.Logger

	history  storage.RunHistory
	trigger  PassTrigger
	targets  []models.RunTarget
	election coordination.Election
	nodeID   string
}

// Config holds API server configuration.
type Config struct {
	Port    string
	History storage.RunHistory
	Trigger PassTrigger
	Targets []models.RunTarget
	// JWT enables bearer authentication when set.
	JWT *auth.JWTService
	// Election and NodeID describe leadership in daemon mode; both optional.
	Election coordination.Election
	NodeID   string
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.TracingMiddleware("testbot-api"))
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger(logger.ForComponent("api")))
	router.Use(middleware.BodySizeLimitMiddleware(1 << 16))

	s := &Server{
		router:   router,
		limiter:  middleware.NewRateLimiter(middleware.TriggerRateLimiterConfig()),
		logger:   logger.ForComponent("api"),
		history:  cfg.History,
		trigger:  cfg.Trigger,
		targets:  cfg.Targets,
		election: cfg.Election,
		nodeID:   cfg.NodeID,
	}

	s.registerRoutes(cfg.JWT)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes(jwt *auth.JWTService) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authOn := jwt != nil
	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(jwt))
	{
		runs := v1.Group("/runs")
		{
			runs.GET("", middleware.RequireRole(auth.RoleViewer, authOn), s.listRuns)
			runs.GET("/:id", middleware.RequireRole(auth.RoleViewer, authOn), s.getRun)
			runs.POST("/trigger", middleware.RequireRole(auth.RoleOperator, authOn), s.limiter.Middleware(), s.triggerPass)
		}

		v1.GET("/schedule", middleware.RequireRole(auth.RoleViewer, authOn), s.getSchedule)
		v1.GET("/targets", middleware.RequireRole(auth.RoleViewer, authOn), s.listTargets)
		v1.GET("/cluster/leader", middleware.RequireRole(auth.RoleViewer, authOn), s.getLeader)
	}
}

// requestLogger is a middleware that logs HTTP requests.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)))
	}
}

// healthCheck reports liveness and whether a pass is running.
func (s *Server) healthCheck(c *gin.Context) {
	running := false
	if s.trigger != nil {
		running = s.trigger.Status().Running
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"pass_running": running,
		"targets":      len(s.targets),
		"timestamp":    time.Now().UTC(),
	})
}
