// Package server provides the customer-facing HTTP API for crewd.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/approval"
	"github.com/crewline/crewd/internal/artifact"
	"github.com/crewline/crewd/internal/board"
	"github.com/crewline/crewd/internal/chat"
	"github.com/crewline/crewd/internal/interrupt"
	"github.com/crewline/crewd/internal/ledger"
	"github.com/crewline/crewd/internal/logging"
	"github.com/crewline/crewd/internal/workflows"
)

// WorkflowEngine is the subset of the workflow client the API needs.
type WorkflowEngine interface {
	StartEngagement(ctx context.Context, input workflows.EngagementInput) error
	CompleteGate(ctx context.Context, taskToken []byte, decision workflows.GateDecision) error
}

// Dependencies holds the services the API exposes.
type Dependencies struct {
	Ledger     ledger.Service
	Approvals  approval.Service
	Interrupts interrupt.Service
	Board      board.Service
	Chat       chat.Service
	Artifacts  artifact.Store
	Engine     WorkflowEngine
}

// Config holds HTTP server configuration.
type Config struct {
	Host      string
	Port      int
	RateLimit float64
}

// Server provides HTTP endpoints for crewd.
type Server struct {
	echo   *echo.Echo
	deps   Dependencies
	logger *logging.Logger
	config *Config
}

// NewServer creates a new HTTP server. The logger is the context-aware
// kind; the request id and project id are set on each request's context
// by the middleware below, so every handler log line carries them.
func NewServer(deps Dependencies, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Ledger == nil || deps.Approvals == nil || deps.Interrupts == nil ||
		deps.Board == nil || deps.Chat == nil || deps.Artifacts == nil || deps.Engine == nil {
		return nil, fmt.Errorf("all service dependencies are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:      "localhost",
			Port:      8090,
			RateLimit: 20,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Put the request id on the request context so handler log
			// lines correlate with the access log below.
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), rid)
			c.SetRequest(c.Request().WithContext(ctx))

			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	e.Use(s.rateLimit())

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/projects", s.handleCreateProject)

	// Everything below a project ID requires the caller to be its owner.
	p := v1.Group("/projects/:id", s.requireOwner)
	p.GET("/status", s.handleStatus)
	p.GET("/deliverables", s.handleDeliverables)
	p.GET("/deliverables/*", s.handleDeliverableFile)
	p.POST("/phases/:phase/approve", s.handleApprove)
	p.POST("/phases/:phase/revise", s.handleRevise)
	p.POST("/interrupts/:iid/answer", s.handleAnswerInterrupt)
	p.GET("/board", s.handleBoard)
	p.GET("/chat", s.handleChatList)
	p.POST("/chat", s.handleChatPost)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
