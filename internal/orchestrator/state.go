package orchestrator

import (
	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/query"
)

// RequestState is the per-request record driven through the pipeline. It is
// owned by a single goroutine; the mutator methods below are the only places
// the retry counter and the error slot change.
type RequestState struct {
	ID                string
	UserQuery         string
	InterpretedIntent string
	GeneratedSQL      string
	ValidatedSQL      string
	ExecutionResult   *query.ExecutionResult
	RetryCount        int
	ErrorMessage      string
	Summary           string
	Chart             agent.ChartKind
}

func newRequestState(userQuery string) *RequestState {
	return &RequestState{
		ID:        uuid.New().String(),
		UserQuery: userQuery,
	}
}

// Accept records a validator acceptance: the validated statement is set and
// the error slot cleared. A non-empty ValidatedSQL always implies an empty
// ErrorMessage.
func (s *RequestState) Accept(normalizedSQL string) {
	s.ValidatedSQL = normalizedSQL
	s.ErrorMessage = ""
}

// Fail records a validation or execution failure: the error slot is set and
// the validated statement and any stale result are cleared.
func (s *RequestState) Fail(msg string) {
	s.ErrorMessage = msg
	s.ValidatedSQL = ""
	s.ExecutionResult = nil
}

// ConsumeRetry increments the retry counter and reports whether the budget
// still allows another SQL generation attempt.
func (s *RequestState) ConsumeRetry(maxRetries int) bool {
	s.RetryCount++
	return s.RetryCount <= maxRetries
}

// Envelope is the unified response shape. It is always emitted; the
// orchestrator never returns an error to its caller.
type Envelope struct {
	ValidatedSQL    *string          `json:"validated_sql"`
	ExecutionResult *ResultPayload   `json:"execution_result"`
	Summary         *string          `json:"summary"`
	ChartSuggestion *agent.ChartKind `json:"chart_suggestion"`
	Error           *string          `json:"error"`
}

// ResultPayload is the execution result as it appears on the wire. Row
// mappings live under the "data" key.
type ResultPayload struct {
	Data      []map[string]any `json:"data"`
	RowCount  int              `json:"row_count"`
	ElapsedMs float64          `json:"elapsed_ms"`
}

func failureEnvelope(msg string) *Envelope {
	return &Envelope{Error: &msg}
}

func successEnvelope(state *RequestState) *Envelope {
	env := &Envelope{
		ValidatedSQL: &state.ValidatedSQL,
		ExecutionResult: &ResultPayload{
			Data:      state.ExecutionResult.Rows,
			RowCount:  state.ExecutionResult.RowCount,
			ElapsedMs: state.ExecutionResult.ElapsedMs,
		},
	}
	if state.Summary != "" {
		env.Summary = &state.Summary
	}
	if state.Chart != "" {
		env.ChartSuggestion = &state.Chart
	}
	return env
}
