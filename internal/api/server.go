// Package api exposes the query gateway over HTTP.
package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/database"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/orchestrator"
	"github.com/finsight-ai/finsight/internal/schema"
)

// Pipeline is the orchestrator surface the handlers need.
type Pipeline interface {
	Run(ctx context.Context, question string) *orchestrator.Envelope
	RunRaw(ctx context.Context, sql string) *orchestrator.Envelope
}

// Server represents the HTTP server
type Server struct {
	app      *fiber.App
	config   *config.Config
	db       *database.Connection
	catalog  *schema.Catalog
	pipeline Pipeline
	metrics  *observability.Metrics
	aiReady  bool
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, db *database.Connection, catalog *schema.Catalog, pipeline Pipeline, metrics *observability.Metrics, aiReady bool) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "Finsight",
		AppName:               "Finsight v1.0.0",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          envelopeErrorHandler,
	})

	server := &Server{
		app:      app,
		config:   cfg,
		db:       db,
		catalog:  catalog,
		pipeline: pipeline,
		metrics:  metrics,
		aiReady:  aiReady,
	}

	server.setupMiddlewares()
	server.setupRoutes()

	return server
}

// setupMiddlewares sets up global middlewares
func (s *Server) setupMiddlewares() {
	// Request ID first so everything downstream can correlate.
	s.app.Use(requestid.New())

	if s.config.Debug {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
		}))
	}

	// Catch panics; the error handler turns them into the envelope shape.
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	if s.metrics != nil {
		s.app.Use(s.metrics.MetricsMiddleware())
	}

	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.config.CORS.AllowedOrigins,
		AllowMethods: "GET,POST",
		AllowHeaders: "Content-Type",
	}))
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/tables", s.handleTables)
	s.app.Post("/query", s.handleQuery)
	s.app.Post("/ask", s.handleAsk)
	if s.metrics != nil {
		s.app.Get("/metrics", s.metrics.Handler())
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app instance for testing
func (s *Server) App() *fiber.App {
	return s.app
}

// envelopeErrorHandler converts any error that escapes a handler, including
// recovered panics, into the unified envelope. No internals leak to clients.
func envelopeErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
		message = "An internal server error occurred"
	}

	return c.Status(code).JSON(errorEnvelope(message))
}
