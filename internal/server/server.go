// Package server is the HTTP front door: task submission, status polling,
// tool listing and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/mofagent/internal/events"
	"github.com/aristath/mofagent/internal/logging"
	"github.com/aristath/mofagent/internal/persistence"
	"github.com/aristath/mofagent/internal/task"
	"github.com/aristath/mofagent/internal/tools"
)

// TaskService is the part of the task manager the server needs.
type TaskService interface {
	Submit(ctx context.Context, query string, files []task.InputFile) (string, error)
	GetStatus(ctx context.Context, id string) (*persistence.Record, error)
	List(ctx context.Context) ([]persistence.Status, error)
}

// Config configures the server.
type Config struct {
	Addr        string
	APIPrefix   string              // e.g. "/api/v1"
	Tools       []tools.Definition  // Served at {prefix}/tools
	Bus         *events.EventBus    // Enables the event stream when set
	Gatherer    prometheus.Gatherer // Served at /metrics (default registry when nil)
	Logger      *slog.Logger
	MaxUploadMB int64 // Multipart memory limit (default 64)
}

// Server serves the agent API.
type Server struct {
	cfg    Config
	svc    TaskService
	engine *gin.Engine
	logger *slog.Logger
}

// New builds the gin engine and registers routes.
func New(cfg Config, svc TaskService) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 64
	}
	cfg.APIPrefix = "/" + strings.Trim(cfg.APIPrefix, "/")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.MaxMultipartMemory = cfg.MaxUploadMB << 20

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		engine: engine,
		logger: logging.OrNop(cfg.Logger).With("component", "server"),
	}

	engine.Use(gin.Recovery())
	engine.Use(requestLogger(s.logger))

	engine.GET("/", s.handleRoot)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	api := engine.Group(cfg.APIPrefix)
	api.POST("/agent/execute", s.handleExecute)
	api.GET("/agent/status/:task_id", s.handleStatus)
	api.GET("/agent/tasks", s.handleList)
	api.GET("/tools", s.handleTools)
	if cfg.Bus != nil {
		api.GET("/agent/events/:task_id", s.handleEvents)
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr, "api_prefix", s.cfg.APIPrefix)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
