package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/observability"
)

// Models sometimes wrap SQL in markdown fences despite instructions.
var fenceRe = regexp.MustCompile("(?i)```(?:sql)?")

// SQLAgent converts an interpreted intent into a candidate SELECT statement.
// On retries the previous validator or executor error is fed back so the
// model can correct itself.
type SQLAgent struct {
	provider llm.Provider
	prompts  *PromptStore
	metrics  *observability.Metrics
}

// NewSQLAgent creates a SQL generation agent.
func NewSQLAgent(provider llm.Provider, prompts *PromptStore, metrics *observability.Metrics) *SQLAgent {
	return &SQLAgent{provider: provider, prompts: prompts, metrics: metrics}
}

// Generate returns candidate SQL for the intent. schemaText is the rendered
// schema description; priorError is empty on the first attempt.
func (a *SQLAgent) Generate(ctx context.Context, intent, schemaText, priorError string) (string, error) {
	if priorError == "" {
		priorError = "None"
	}

	prompt, err := a.prompts.Render("sql", map[string]any{
		"Schema":     schemaText,
		"Intent":     intent,
		"PriorError": priorError,
	})
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := a.provider.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: intent},
		},
		Temperature: 0,
	})
	if err != nil {
		a.record("error", start)
		return "", fmt.Errorf("sql agent: %w", err)
	}

	sql := CleanSQL(resp.Text())
	if sql == "" {
		a.record("empty", start)
		return "", fmt.Errorf("sql agent: empty completion")
	}

	a.record("ok", start)
	log.Debug().Str("sql", sql).Msg("SQL generated")
	return sql, nil
}

func (a *SQLAgent) record(outcome string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordLLMCall("sql", outcome, time.Since(start))
	}
}

// CleanSQL strips markdown fences and trailing semicolons from a model
// completion.
func CleanSQL(s string) string {
	s = fenceRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ";")
	return strings.TrimSpace(s)
}
