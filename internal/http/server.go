// Package http provides the HTTP API for learnloop.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/learning"
	"github.com/fyrsmithlabs/learnloop/internal/logging"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Retriever finds previously successful memories.
type Retriever interface {
	Similar(ctx context.Context, question string, k int) []learning.Memory
}

// Submitter hands finished interactions to the learning pipeline.
type Submitter interface {
	Submit(ctx context.Context, in learning.Interaction) error
}

// Dashboard serves read-only learning state.
type Dashboard interface {
	Stats(ctx context.Context) (learning.Stats, error)
	RecentMemories(ctx context.Context, limit int) ([]learning.Memory, error)
	PatternsByUsage(ctx context.Context, limit int) ([]learning.QueryPattern, error)
}

// Services are the collaborators behind the API routes.
type Services struct {
	Retriever Retriever
	Submitter Submitter
	Dashboard Dashboard
}

// Server provides HTTP endpoints for learnloop.
type Server struct {
	echo     *echo.Echo
	services Services
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RetrieveK is used when a similar request omits k.
	RetrieveK int
	// RetrieveTimeout bounds a similarity lookup; zero means no extra bound.
	RetrieveTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(services Services, logger *zap.Logger, metrics *HTTPMetrics, cfg *Config) (*Server, error) {
	if services.Retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if services.Submitter == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}
	if services.Dashboard == nil {
		return nil, fmt.Errorf("dashboard cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return err
		}
	})
	if metrics != nil {
		e.Use(metrics.MetricsMiddleware())
	}

	s := &Server{
		echo:     e,
		services: services,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/memories/similar", s.handleSimilar)
	v1.GET("/memories/recent", s.handleRecentMemories)
	v1.POST("/interactions", s.handleInteraction)
	v1.GET("/stats", s.handleStats)
	v1.GET("/patterns", s.handlePatterns)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSimilar always answers 200: retrieval problems yield no examples.
func (s *Server) handleSimilar(c echo.Context) error {
	var req SimilarRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid similar request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.K <= 0 {
		req.K = s.config.RetrieveK
	}

	ctx := c.Request().Context()
	if s.config.RetrieveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RetrieveTimeout)
		defer cancel()
	}

	memories := s.services.Retriever.Similar(ctx, req.Question, req.K)
	return c.JSON(http.StatusOK, SimilarResponse{
		Memories: memoryViews(memories),
		Examples: learning.FormatExamples(memories),
	})
}

func (s *Server) handleInteraction(c echo.Context) error {
	var in learning.Interaction
	if err := c.Bind(&in); err != nil {
		s.logger.Warn("invalid interaction request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.InteractionID == "" {
		in.InteractionID = uuid.New().String()
	}

	ctx := logging.WithInteractionID(c.Request().Context(), in.InteractionID)
	if err := s.services.Submitter.Submit(ctx, in); err != nil {
		if errors.Is(err, learning.ErrInvalidInteraction) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("failed to submit interaction",
			zap.String("interaction_id", in.InteractionID), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "learning pipeline unavailable")
	}

	return c.JSON(http.StatusAccepted, InteractionResponse{
		InteractionID: in.InteractionID,
		Status:        "accepted",
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.services.Dashboard.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to read stats", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read stats")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleRecentMemories(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	memories, err := s.services.Dashboard.RecentMemories(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error("failed to list memories", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list memories")
	}
	return c.JSON(http.StatusOK, MemoriesResponse{Memories: memoryViews(memories)})
}

func (s *Server) handlePatterns(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	patterns, err := s.services.Dashboard.PatternsByUsage(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error("failed to list patterns", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list patterns")
	}
	if patterns == nil {
		patterns = []learning.QueryPattern{}
	}
	return c.JSON(http.StatusOK, PatternsResponse{Patterns: patterns})
}

// parseLimit reads ?limit=. Missing means 0, which the dashboard treats as
// the default; the dashboard also caps large values.
func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	return n, nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
