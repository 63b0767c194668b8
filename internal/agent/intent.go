package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/observability"
)

// IntentAgent rewrites a natural-language question into a structured
// retrieval intent for the SQL generator.
type IntentAgent struct {
	provider llm.Provider
	prompts  *PromptStore
	metrics  *observability.Metrics
}

// NewIntentAgent creates an intent agent.
func NewIntentAgent(provider llm.Provider, prompts *PromptStore, metrics *observability.Metrics) *IntentAgent {
	return &IntentAgent{provider: provider, prompts: prompts, metrics: metrics}
}

// Interpret returns the interpreted intent for userQuery.
func (a *IntentAgent) Interpret(ctx context.Context, userQuery string) (string, error) {
	prompt, err := a.prompts.Render("intent", map[string]any{
		"UserQuery": userQuery,
	})
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := a.provider.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: userQuery},
		},
		Temperature: 0,
	})
	if err != nil {
		a.record("error", start)
		return "", fmt.Errorf("intent agent: %w", err)
	}

	intent := strings.TrimSpace(resp.Text())
	if intent == "" {
		a.record("empty", start)
		return "", fmt.Errorf("intent agent: empty completion")
	}

	a.record("ok", start)
	log.Debug().Str("intent", intent).Msg("Intent extracted")
	return intent, nil
}

func (a *IntentAgent) record(outcome string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordLLMCall("intent", outcome, time.Since(start))
	}
}
