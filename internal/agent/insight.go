package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/observability"
)

// ChartKind is a visualization suggestion for a result set.
type ChartKind string

const (
	ChartBar      ChartKind = "bar"
	ChartLine     ChartKind = "line"
	ChartPie      ChartKind = "pie"
	ChartDoughnut ChartKind = "doughnut"
	ChartTable    ChartKind = "table"
	ChartMetric   ChartKind = "metric"
)

// CoerceChart maps an arbitrary string to a valid ChartKind. Anything outside
// the allowed set becomes ChartTable.
func CoerceChart(s string) ChartKind {
	switch ChartKind(strings.ToLower(strings.TrimSpace(s))) {
	case ChartBar:
		return ChartBar
	case ChartLine:
		return ChartLine
	case ChartPie:
		return ChartPie
	case ChartDoughnut:
		return ChartDoughnut
	case ChartMetric:
		return ChartMetric
	default:
		return ChartTable
	}
}

// Insight is the output of the insight agent.
type Insight struct {
	Summary string
	Chart   ChartKind
}

var (
	summaryRe = regexp.MustCompile(`(?im)^\s*summary:\s*(.+)$`)
	chartRe   = regexp.MustCompile(`(?im)^\s*chart:\s*([a-z_]+)`)
)

const insightSampleRows = 5

// InsightAgent produces a plain-language summary and a chart suggestion for
// an executed query.
type InsightAgent struct {
	provider llm.Provider
	prompts  *PromptStore
	metrics  *observability.Metrics
}

// NewInsightAgent creates an insight agent.
func NewInsightAgent(provider llm.Provider, prompts *PromptStore, metrics *observability.Metrics) *InsightAgent {
	return &InsightAgent{provider: provider, prompts: prompts, metrics: metrics}
}

// Summarize returns an insight for the executed SQL and its rows. Only a
// small sample of rows is sent to the model.
func (a *InsightAgent) Summarize(ctx context.Context, sql string, rows []map[string]any, rowCount int) (Insight, error) {
	sample := rows
	if len(sample) > insightSampleRows {
		sample = sample[:insightSampleRows]
	}
	sampleJSON, err := json.Marshal(sample)
	if err != nil {
		sampleJSON = []byte("[]")
	}

	prompt, err := a.prompts.Render("insight", map[string]any{
		"SQL":      sql,
		"RowCount": rowCount,
		"Sample":   string(sampleJSON),
	})
	if err != nil {
		return Insight{}, err
	}

	start := time.Now()
	resp, err := a.provider.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		a.record("error", start)
		return Insight{}, fmt.Errorf("insight agent: %w", err)
	}

	insight := parseInsight(resp.Text())
	a.record("ok", start)
	log.Debug().Str("summary", insight.Summary).Str("chart", string(insight.Chart)).Msg("Insight generated")
	return insight, nil
}

func (a *InsightAgent) record(outcome string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordLLMCall("insight", outcome, time.Since(start))
	}
}

// parseInsight extracts the SUMMARY and CHART lines. A completion that does
// not follow the format is treated as a bare summary with a table chart.
func parseInsight(text string) Insight {
	insight := Insight{Chart: ChartTable}

	if m := summaryRe.FindStringSubmatch(text); m != nil {
		insight.Summary = strings.TrimSpace(m[1])
	} else {
		insight.Summary = strings.TrimSpace(text)
	}
	if m := chartRe.FindStringSubmatch(text); m != nil {
		insight.Chart = CoerceChart(m[1])
	}

	return insight
}
