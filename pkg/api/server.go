// Package api exposes profiling runs and their records over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"profiler/pkg/api/middleware"
	"profiler/pkg/auth"
	"profiler/pkg/coordination"
	"profiler/pkg/logger"
	"profiler/pkg/models"
	"profiler/pkg/scheduler"
	"profiler/pkg/storage"
)

// ProfileExecutor runs one profiling request synchronously.
type ProfileExecutor interface {
	Execute(ctx context.Context, req models.ProfileRequest) (*models.Profile, error)
}

// ScheduleLister reports configured schedules. *scheduler.Core implements it.
type ScheduleLister interface {
	Entries() []scheduler.Entry
}

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	logger     *zap.Logger

	executor    ProfileExecutor
	store       storage.ProfileStore
	outputs     storage.OutputStore
	coordinator coordination.Coordinator
	election    coordination.Election
	schedules   ScheduleLister
	validator   *middleware.Validator
	checks      map[string]func(ctx context.Context) error
	authEnabled bool
}

// Config holds API server configuration. Only Executor and Store are
// required; routes backed by a nil dependency answer 501.
type Config struct {
	Port         string
	Executor     ProfileExecutor
	Store        storage.ProfileStore
	Outputs      storage.OutputStore
	Coordinator  coordination.Coordinator
	Election     coordination.Election // scheduler election shown at /cluster/leader
	Schedules    ScheduleLister
	Auth         *middleware.AuthConfig // nil disables authentication
	Validator    *middleware.Validator
	RateLimit    middleware.RateLimiterConfig
	MaxBodyBytes int64
	HealthChecks map[string]func(ctx context.Context) error
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Validator == nil {
		cfg.Validator = middleware.NewValidator(middleware.DefaultValidatorConfig())
	}

	s := &Server{
		router:      gin.New(),
		limiter:     middleware.NewRateLimiter(cfg.RateLimit),
		logger:      logger.Named("api"),
		executor:    cfg.Executor,
		store:       cfg.Store,
		outputs:     cfg.Outputs,
		coordinator: cfg.Coordinator,
		election:    cfg.Election,
		schedules:   cfg.Schedules,
		validator:   cfg.Validator,
		checks:      cfg.HealthChecks,
	}

	// Middleware stack (order matters)
	s.router.Use(s.recovery())
	s.router.Use(middleware.RequestIDMiddleware())
	s.router.Use(middleware.TracingMiddleware("profiler-api"))
	s.router.Use(middleware.SecurityHeadersMiddleware())
	s.router.Use(middleware.MetricsMiddleware())
	s.router.Use(middleware.RequestLogger(logger.Named("http")))
	s.router.Use(s.limiter.Middleware())
	s.router.Use(middleware.BodySizeLimitMiddleware(cfg.MaxBodyBytes))

	s.registerRoutes(cfg.Auth)

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: run requests are held open for the whole command.
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight runs
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes(authCfg *middleware.AuthConfig) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	if authCfg != nil {
		v1.Use(middleware.AuthMiddleware(*authCfg))
	}
	s.authEnabled = authCfg != nil

	v1.POST("/runs", s.require(auth.RoleOperator, s.runProfile)...)

	profiles := v1.Group("/profiles")
	{
		profiles.GET("", s.require(auth.RoleViewer, s.listProfiles)...)
		profiles.GET("/:id", s.require(auth.RoleViewer, s.getProfile)...)
		// Captured output may hold secrets the command printed
		profiles.GET("/:id/output", s.require(auth.RoleOperator, s.getProfileOutput)...)
	}
	v1.GET("/failures", s.require(auth.RoleViewer, s.listFailures)...)
	v1.GET("/schedules", s.require(auth.RoleViewer, s.listSchedules)...)

	cluster := v1.Group("/cluster")
	{
		cluster.GET("/nodes", s.require(auth.RoleViewer, s.listNodes)...)
		cluster.GET("/leader", s.require(auth.RoleViewer, s.getLeader)...)
	}
}

// require prefixes handler with a role check when authentication is on.
func (s *Server) require(role auth.Role, handler gin.HandlerFunc) []gin.HandlerFunc {
	if !s.authEnabled {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{middleware.RequireRole(role), handler}
}

// recovery turns a handler panic into a logged 500.
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		s.logger.Error("Handler panicked",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// healthCheck returns server health status with dependency checks.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
