// Package http provides the HTTP API for arcyn.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/events"
	"github.com/fyrsmithlabs/arcyn/internal/gateway"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
	"github.com/fyrsmithlabs/arcyn/internal/memory"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

const recentUsageLimit = 20

// Server provides HTTP endpoints for arcyn.
type Server struct {
	echo     *echo.Echo
	orch     *orchestrator.Orchestrator
	memory   memory.Store
	provider gateway.Provider
	usage    *gateway.UsageTracker
	events   *events.Publisher
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// Metrics exposes /metrics for Prometheus.
	Metrics bool
	// PipelineTimeout bounds each execute request. Zero means no bound.
	PipelineTimeout time.Duration
}

// Deps are the services behind the API. Only Orchestrator is required;
// routes backed by a missing service answer 503.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Memory       memory.Store
	Provider     gateway.Provider
	Usage        *gateway.UsageTracker
	Events       *events.Publisher
	Metrics      *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if deps.Metrics != nil {
		e.Use(deps.Metrics.MetricsMiddleware())
	}
	e.Use(requestLogger(logger))

	s := &Server{
		echo:     e,
		orch:     deps.Orchestrator,
		memory:   deps.Memory,
		provider: deps.Provider,
		usage:    deps.Usage,
		events:   deps.Events,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// requestLogger logs every request and puts its request ID on the context.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), reqID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.config.Metrics {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/execute", s.handleExecute)
	v1.POST("/classify", s.handleClassify)
	v1.POST("/plan", s.handlePlan)
	v1.GET("/memory/search", s.handleMemorySearch)
	v1.GET("/memory/stats", s.handleMemoryStats)
	v1.GET("/provider/health", s.handleProviderHealth)
	v1.GET("/provider/usage", s.handleProviderUsage)
	v1.GET("/events", s.handleEvents)
}

// Echo returns the underlying Echo instance for registering extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Pipeline: s.orch.Status(ctx),
		Events:   s.events != nil,
	}
	if s.memory != nil {
		st, err := s.memory.Stats(ctx)
		if err != nil {
			s.logger.Warn(ctx, "memory stats failed", zap.Error(err))
			resp.Status = "degraded"
		} else {
			resp.Memory = st
		}
	}
	if s.provider != nil {
		report := gateway.Report(s.provider)
		resp.Provider = &report
		if !report.Healthy {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleExecute runs the full pipeline. A failed run is still a 200: the
// result carries the failure.
func (s *Server) handleExecute(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid execute request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	if s.config.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.PipelineTimeout)
		defer cancel()
	}

	result := s.orch.Execute(ctx, req.Goal)
	c.Set(runResultKey, result)
	if !req.Verbose {
		result = result.Compact()
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleClassify(c echo.Context) error {
	var req GoalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.orch.Classify(c.Request().Context(), req.Goal)
	if err != nil {
		return stageFailure(c, orchestrator.StageClassify, err)
	}
	return c.JSON(http.StatusOK, StageResponse{Stage: orchestrator.StageClassify, Output: out})
}

func (s *Server) handlePlan(c echo.Context) error {
	var req PlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	classification := req.Classification
	if classification == nil {
		if strings.TrimSpace(req.Goal) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "classification or goal is required")
		}
		out, err := s.orch.Classify(ctx, req.Goal)
		if err != nil {
			return stageFailure(c, orchestrator.StageClassify, err)
		}
		classification = out
	}

	out, err := s.orch.Plan(ctx, classification)
	if err != nil {
		return stageFailure(c, orchestrator.StagePlan, err)
	}
	return c.JSON(http.StatusOK, StageResponse{Stage: orchestrator.StagePlan, Output: out})
}

// stageFailure answers 422 with the stage error.
func stageFailure(c echo.Context, stage orchestrator.Stage, err error) error {
	resp := ErrorResponse{Error: err.Error(), Stage: stage}
	var se *orchestrator.StageError
	if errors.As(err, &se) {
		resp.Error = se.Message
		resp.Stage = se.Stage
	}
	return c.JSON(http.StatusUnprocessableEntity, resp)
}

func (s *Server) handleMemorySearch(c echo.Context) error {
	if s.memory == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory is not configured")
	}
	query := c.QueryParam("q")
	if strings.TrimSpace(query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	limit := memory.DefaultSearchLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	res, err := s.memory.Search(c.Request().Context(), query, limit)
	if err != nil {
		s.logger.Error(c.Request().Context(), "memory search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "memory search failed")
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleMemoryStats(c echo.Context) error {
	if s.memory == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory is not configured")
	}
	st, err := s.memory.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "memory stats failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "memory stats failed")
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleProviderHealth(c echo.Context) error {
	if s.provider == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no provider configured")
	}
	report := gateway.Report(s.provider)
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func (s *Server) handleProviderUsage(c echo.Context) error {
	if s.usage == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "usage tracking is not enabled")
	}
	return c.JSON(http.StatusOK, UsageResponse{
		SessionUsage: s.usage.Snapshot(),
		Recent:       s.usage.Recent(recentUsageLimit),
	})
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
