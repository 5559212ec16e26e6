package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/llamafarm/llamafarm/pkg/broker"
	"github.com/llamafarm/llamafarm/pkg/events"
	"github.com/llamafarm/llamafarm/pkg/log"
	"github.com/llamafarm/llamafarm/pkg/manifest"
	"github.com/llamafarm/llamafarm/pkg/metrics"
	"github.com/llamafarm/llamafarm/pkg/orchestrator"
)

// Config for the API server
type Config struct {
	Port int

	// ProjectDir is the project root holding manifest.yaml
	ProjectDir string

	// VectorRoot is where per-database vector stores live
	VectorRoot string

	// RuntimeURL is the Universal Runtime base URL
	RuntimeURL string

	Version string

	// TaskWait bounds synchronous waits (rag queries); default 60s
	TaskWait time.Duration
}

// Server is the HTTP API: dataset ingestion, task polling, retrieval
// queries, model downloads, and the chat proxy. Long work never runs in
// a request handler; it is dispatched to the worker and polled.
type Server struct {
	cfg        Config
	broker     *broker.Broker
	downloader *orchestrator.Downloader
	events     *events.Broker
	echo       *echo.Echo
	logger     zerolog.Logger
}

// NewServer wires the API server
func NewServer(cfg Config, b *broker.Broker, dl *orchestrator.Downloader, ev *events.Broker) *Server {
	if cfg.TaskWait <= 0 {
		cfg.TaskWait = 60 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("10M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))

	s := &Server{
		cfg:        cfg,
		broker:     b,
		downloader: dl,
		events:     ev,
		echo:       e,
		logger:     log.WithComponent("api"),
	}
	e.Use(s.observe)
	s.routes()
	return s
}

// observe logs each request and feeds the Prometheus counters
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else {
				status = http.StatusInternalServerError
			}
		}

		metrics.APIRequestsTotal.WithLabelValues(c.Request().Method, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request().Method).Observe(time.Since(start).Seconds())

		s.logger.Debug().
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/v1/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.POST("/v1/projects/:namespace/:name/datasets/:database/ingest", s.handleIngest)
	e.GET("/v1/projects/:namespace/:name/datasets", s.handleListDatasets)

	e.GET("/v1/tasks/:id", s.handleTaskPoll)
	e.DELETE("/v1/tasks/:id", s.handleTaskRevoke)

	e.POST("/v1/rag/:database/query", s.handleQuery)
	e.GET("/v1/rag/:database/stats", s.handleStats)

	e.GET("/v1/models/download", s.handleDownload)
	e.POST("/v1/chat", s.handleChat)
	e.GET("/v1/events", s.handleEvents)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(fmt.Sprintf(":%d", s.cfg.Port))
	}()
	s.logger.Info().Int("port", s.cfg.Port).Msg("api server listening")

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown failed: %w", err)
		}
		s.logger.Info().Msg("api server stopped")
		return nil
	}
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// loadManifest reads the project manifest for each request; the file is
// the source of truth and cheap to parse.
func (s *Server) loadManifest() (*manifest.Manifest, error) {
	return manifest.Load(s.cfg.ProjectDir)
}
