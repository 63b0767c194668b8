package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/finsight-ai/finsight/internal/orchestrator"
)

// Natural language questions are capped well below the SQL bound; the model
// expands them anyway.
const maxQuestionLength = 2000

// QueryRequest is the body of POST /query (raw SQL path).
type QueryRequest struct {
	SQL string `json:"sql"`
}

// AskRequest is the body of POST /ask (full pipeline).
type AskRequest struct {
	Query string `json:"query"`
}

// errorEnvelope builds a failure envelope with only the error slot populated.
func errorEnvelope(msg string) *orchestrator.Envelope {
	return &orchestrator.Envelope{Error: &msg}
}

// handleHealth reports service, database and LLM readiness.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := "healthy"
	database := "connected"

	if err := s.db.Health(c.UserContext()); err != nil {
		log.Warn().Err(err).Msg("Health check: database unreachable")
		status = "degraded"
		database = "unreachable"
	}

	tables, err := s.db.Tables(c.UserContext())
	if err != nil {
		tables = s.catalog.TableNames()
	}

	return c.JSON(fiber.Map{
		"status":   status,
		"database": database,
		"tables":   tables,
		"ai_ready": s.aiReady,
	})
}

// handleTables returns the catalog metadata.
func (s *Server) handleTables(c *fiber.Ctx) error {
	tables := s.catalog.Tables()
	return c.JSON(fiber.Map{
		"tables": tables,
		"count":  len(tables),
	})
}

// handleQuery runs the raw SQL path. Validator rejections come back with
// status 200; only malformed bodies get 422.
func (s *Server) handleQuery(c *fiber.Ctx) error {
	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(errorEnvelope("Request validation error: body must be JSON with a 'sql' field"))
	}

	sql := strings.TrimSpace(req.SQL)
	if sql == "" {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(errorEnvelope("Request validation error: sql must not be empty"))
	}
	if len(req.SQL) > s.config.Query.MaxQueryLength {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(errorEnvelope("Request validation error: sql exceeds the maximum length"))
	}

	return c.JSON(s.pipeline.RunRaw(c.UserContext(), sql))
}

// handleAsk runs the full pipeline for a natural language question.
func (s *Server) handleAsk(c *fiber.Ctx) error {
	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(errorEnvelope("Request validation error: body must be JSON with a 'query' field"))
	}

	question := strings.TrimSpace(req.Query)
	if question == "" {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(errorEnvelope("Request validation error: query must not be empty"))
	}
	if len(req.Query) > maxQuestionLength {
		return c.Status(fiber.StatusUnprocessableEntity).
			JSON(errorEnvelope("Request validation error: query exceeds the maximum length"))
	}

	return c.JSON(s.pipeline.Run(c.UserContext(), question))
}
