// Package orchestrator drives the bounded-retry pipeline that turns a natural
// language question, or a raw SQL statement, into a unified response envelope.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/query"
	"github.com/finsight-ai/finsight/internal/schema"
	"github.com/finsight-ai/finsight/internal/sqlguard"
)

// DefaultMaxRetries bounds how often the SQL agent is re-invoked after a
// validation or execution failure. Two retries means three attempts total.
const DefaultMaxRetries = 2

const (
	errLLMUnavailable = "AI service is unavailable, please try again later"
	errBudgetExceeded = "could not produce a valid query after %d attempts; last error: %s"
)

// IntentInterpreter extracts a structured retrieval intent from a question.
type IntentInterpreter interface {
	Interpret(ctx context.Context, userQuery string) (string, error)
}

// SQLGenerator produces candidate SQL from an intent.
type SQLGenerator interface {
	Generate(ctx context.Context, intent, schemaText, priorError string) (string, error)
}

// Summarizer produces the summary and chart suggestion for executed SQL.
type Summarizer interface {
	Summarize(ctx context.Context, sql string, rows []map[string]any, rowCount int) (agent.Insight, error)
}

// Executor runs validator-accepted SQL.
type Executor interface {
	Run(ctx context.Context, sql string) (*query.ExecutionResult, error)
}

// Orchestrator wires the agents, the validator and the executor into the
// request pipeline. It is stateless across requests and safe for concurrent
// use.
type Orchestrator struct {
	catalog    *schema.Catalog
	validator  *sqlguard.Validator
	executor   Executor
	intents    IntentInterpreter
	sqlgen     SQLGenerator
	insights   Summarizer
	metrics    *observability.Metrics
	maxRetries int
}

// New creates an orchestrator. maxRetries < 0 falls back to the default.
func New(
	catalog *schema.Catalog,
	validator *sqlguard.Validator,
	executor Executor,
	intents IntentInterpreter,
	sqlgen SQLGenerator,
	insights Summarizer,
	metrics *observability.Metrics,
	maxRetries int,
) *Orchestrator {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Orchestrator{
		catalog:    catalog,
		validator:  validator,
		executor:   executor,
		intents:    intents,
		sqlgen:     sqlgen,
		insights:   insights,
		metrics:    metrics,
		maxRetries: maxRetries,
	}
}

// Run drives the full pipeline for a natural language question:
// intent extraction, SQL generation, validation, execution and insight.
// Validation rejections and execution failures are fed back into SQL
// regeneration until the retry budget is spent.
func (o *Orchestrator) Run(ctx context.Context, question string) *Envelope {
	state := newRequestState(question)
	logger := log.With().Str("request_id", state.ID).Logger()
	start := time.Now()

	logger.Info().Str("query", question).Msg("Pipeline started")

	intent, err := o.intents.Interpret(ctx, question)
	if err != nil {
		logger.Warn().Err(err).Msg("Intent extraction failed")
		o.recordRun("agent", "error", state.RetryCount, start)
		return failureEnvelope(errLLMUnavailable)
	}
	state.InterpretedIntent = intent

	priorError := ""
	for {
		sql, err := o.sqlgen.Generate(ctx, intent, o.catalog.PromptText(), priorError)
		if err != nil {
			logger.Warn().Err(err).Msg("SQL generation failed")
			o.recordRun("agent", "error", state.RetryCount, start)
			return failureEnvelope(errLLMUnavailable)
		}
		state.GeneratedSQL = sql

		verdict := o.validator.Validate(sql)
		if !verdict.Accepted {
			logger.Info().
				Str("reason", string(verdict.Reason)).
				Str("detail", verdict.Detail).
				Int("retry_count", state.RetryCount).
				Msg("Validation rejected")
			o.recordRejection(verdict.Reason)
			state.Fail(verdict.Detail)
			priorError = verdict.Detail
			if !state.ConsumeRetry(o.maxRetries) {
				o.recordRun("agent", "refused", state.RetryCount, start)
				return failureEnvelope(o.budgetError(verdict.Detail))
			}
			continue
		}
		state.Accept(verdict.NormalizedSQL)

		result, err := o.executor.Run(ctx, verdict.NormalizedSQL)
		if err != nil {
			msg := executionErrorMessage(err)
			logger.Warn().Err(err).Int("retry_count", state.RetryCount).Msg("Execution failed")
			state.Fail(msg)
			priorError = msg
			if !state.ConsumeRetry(o.maxRetries) {
				o.recordRun("agent", "error", state.RetryCount, start)
				return failureEnvelope(o.budgetError(msg))
			}
			continue
		}
		state.ExecutionResult = result

		// Insight failures never fail the request; the rows are already
		// computed.
		insight, err := o.insights.Summarize(ctx, state.ValidatedSQL, result.Rows, result.RowCount)
		if err != nil {
			logger.Warn().Err(err).Msg("Insight generation failed")
			state.Chart = agent.ChartTable
		} else {
			state.Summary = insight.Summary
			state.Chart = insight.Chart
		}

		logger.Info().
			Int("rows", result.RowCount).
			Int("retry_count", state.RetryCount).
			Float64("elapsed_ms", result.ElapsedMs).
			Msg("Pipeline succeeded")
		o.recordRun("agent", "success", state.RetryCount, start)
		return successEnvelope(state)
	}
}

// RunRaw drives the raw-SQL path: validation and execution only, no LLM and
// no retries. The summary and chart suggestion are synthesized from the
// result shape.
func (o *Orchestrator) RunRaw(ctx context.Context, sql string) *Envelope {
	state := newRequestState(sql)
	logger := log.With().Str("request_id", state.ID).Logger()
	start := time.Now()

	verdict := o.validator.Validate(sql)
	if !verdict.Accepted {
		logger.Info().
			Str("reason", string(verdict.Reason)).
			Str("detail", verdict.Detail).
			Msg("Raw SQL rejected")
		o.recordRejection(verdict.Reason)
		o.recordRun("raw", "refused", 0, start)
		return failureEnvelope(verdict.Detail)
	}
	state.Accept(verdict.NormalizedSQL)

	result, err := o.executor.Run(ctx, verdict.NormalizedSQL)
	if err != nil {
		logger.Warn().Err(err).Msg("Raw SQL execution failed")
		o.recordRun("raw", "error", 0, start)
		return failureEnvelope(executionErrorMessage(err))
	}
	state.ExecutionResult = result
	state.Summary = fmt.Sprintf("Query returned %d row(s)", result.RowCount)
	state.Chart = suggestChart(result.Rows, result.RowCount)

	logger.Info().
		Int("rows", result.RowCount).
		Float64("elapsed_ms", result.ElapsedMs).
		Msg("Raw SQL executed")
	o.recordRun("raw", "success", 0, start)
	return successEnvelope(state)
}

func (o *Orchestrator) budgetError(last string) string {
	return fmt.Sprintf(errBudgetExceeded, o.maxRetries+1, last)
}

func (o *Orchestrator) recordRun(path, outcome string, retries int, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordPipelineRun(path, outcome, retries, time.Since(start))
	}
}

func (o *Orchestrator) recordRejection(reason sqlguard.RejectionKind) {
	if o.metrics != nil {
		o.metrics.RecordRejection(string(reason))
	}
}

// executionErrorMessage maps executor failures to stable user-facing strings.
// DatabaseError messages are already credential-redacted by the executor.
func executionErrorMessage(err error) string {
	if errors.Is(err, query.ErrTimeout) {
		return "query execution timed out"
	}
	var dbErr *query.DatabaseError
	if errors.As(err, &dbErr) {
		return "database error: " + dbErr.Message
	}
	return "query execution failed"
}

// suggestChart picks a chart for the raw-SQL path, where no LLM is in the
// loop, from the shape of the result alone.
func suggestChart(rows []map[string]any, rowCount int) agent.ChartKind {
	if rowCount == 0 {
		return agent.ChartTable
	}
	if rowCount == 1 {
		return agent.ChartMetric
	}
	// Two columns read as label + value.
	if len(rows) > 0 && len(rows[0]) == 2 {
		if rowCount > 5 {
			return agent.ChartBar
		}
		return agent.ChartPie
	}
	return agent.ChartTable
}
