package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/orchestrator"
	"github.com/finsight-ai/finsight/internal/schema"
)

// fakePipeline returns canned envelopes and records what it was asked.
type fakePipeline struct {
	runEnv    *orchestrator.Envelope
	runRawEnv *orchestrator.Envelope
	questions []string
	sqls      []string
}

func (f *fakePipeline) Run(_ context.Context, question string) *orchestrator.Envelope {
	f.questions = append(f.questions, question)
	return f.runEnv
}

func (f *fakePipeline) RunRaw(_ context.Context, sql string) *orchestrator.Envelope {
	f.sqls = append(f.sqls, sql)
	return f.runRawEnv
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address:      ":0",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
			BodyLimit:    1 * 1024 * 1024,
		},
		Query: config.QueryConfig{
			TimeoutSeconds: 30,
			MaxResultRows:  1000,
			MaxQueryLength: 5000,
			DefaultLimit:   100,
			MaxLimit:       1000,
		},
		CORS: config.CORSConfig{AllowedOrigins: "http://localhost:3000"},
	}
}

func newTestServer(t *testing.T, pipeline Pipeline) *Server {
	t.Helper()
	return NewServer(testConfig(), nil, schema.NewCatalog(), pipeline, nil, true)
}

func successEnvelopeFixture() *orchestrator.Envelope {
	sql := "select count(*) from customers limit 100"
	summary := "There are 5 customers."
	chart := agent.ChartMetric
	return &orchestrator.Envelope{
		ValidatedSQL: &sql,
		ExecutionResult: &orchestrator.ResultPayload{
			Data:      []map[string]any{{"count": float64(5)}},
			RowCount:  1,
			ElapsedMs: 1.2,
		},
		Summary:         &summary,
		ChartSuggestion: &chart,
	}
}

func postJSON(t *testing.T, server *Server, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) *orchestrator.Envelope {
	t.Helper()
	var env orchestrator.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return &env
}

func TestHandleTables(t *testing.T) {
	server := newTestServer(t, &fakePipeline{})

	req := httptest.NewRequest(http.MethodGet, "/tables", nil)
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tables []schema.Table `json:"tables"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 3, body.Count)
	require.Len(t, body.Tables, 3)
	assert.Equal(t, "customers", body.Tables[0].Name)
	assert.NotEmpty(t, body.Tables[0].Columns)
}

func TestHandleQuery(t *testing.T) {
	t.Run("passes envelope through with status 200", func(t *testing.T) {
		pipeline := &fakePipeline{runRawEnv: successEnvelopeFixture()}
		server := newTestServer(t, pipeline)

		resp := postJSON(t, server, "/query", `{"sql": "SELECT COUNT(*) FROM customers"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.ValidatedSQL)
		assert.Equal(t, "select count(*) from customers limit 100", *env.ValidatedSQL)
		require.NotNil(t, env.ExecutionResult)
		assert.Equal(t, 1, env.ExecutionResult.RowCount)
		assert.Nil(t, env.Error)

		require.Len(t, pipeline.sqls, 1)
		assert.Equal(t, "SELECT COUNT(*) FROM customers", pipeline.sqls[0])
	})

	t.Run("business refusals still return 200", func(t *testing.T) {
		msg := "multiple statements are not allowed"
		pipeline := &fakePipeline{runRawEnv: &orchestrator.Envelope{Error: &msg}}
		server := newTestServer(t, pipeline)

		resp := postJSON(t, server, "/query", `{"sql": "SELECT 1; DROP TABLE customers"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		assert.Equal(t, msg, *env.Error)
		assert.Nil(t, env.ValidatedSQL)
	})

	t.Run("malformed body is 422", func(t *testing.T) {
		pipeline := &fakePipeline{}
		server := newTestServer(t, pipeline)

		resp := postJSON(t, server, "/query", `{not json`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		assert.Contains(t, *env.Error, "Request validation error")
		assert.Empty(t, pipeline.sqls)
	})

	t.Run("blank sql is 422", func(t *testing.T) {
		pipeline := &fakePipeline{}
		server := newTestServer(t, pipeline)

		resp := postJSON(t, server, "/query", `{"sql": "   "}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Empty(t, pipeline.sqls)
	})

	t.Run("over-long sql is 422", func(t *testing.T) {
		pipeline := &fakePipeline{}
		server := newTestServer(t, pipeline)

		body := `{"sql": "SELECT '` + strings.Repeat("x", 6000) + `'"}`
		resp := postJSON(t, server, "/query", body)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Empty(t, pipeline.sqls)
	})
}

func TestHandleAsk(t *testing.T) {
	t.Run("passes envelope through", func(t *testing.T) {
		pipeline := &fakePipeline{runEnv: successEnvelopeFixture()}
		server := newTestServer(t, pipeline)

		resp := postJSON(t, server, "/ask", `{"query": "How many customers are there?"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Summary)
		assert.Equal(t, "There are 5 customers.", *env.Summary)
		require.NotNil(t, env.ChartSuggestion)
		assert.Equal(t, agent.ChartMetric, *env.ChartSuggestion)

		require.Len(t, pipeline.questions, 1)
		assert.Equal(t, "How many customers are there?", pipeline.questions[0])
	})

	t.Run("blank question is 422", func(t *testing.T) {
		pipeline := &fakePipeline{}
		server := newTestServer(t, pipeline)

		resp := postJSON(t, server, "/ask", `{"query": ""}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Empty(t, pipeline.questions)
	})

	t.Run("question over 2000 characters is 422", func(t *testing.T) {
		pipeline := &fakePipeline{}
		server := newTestServer(t, pipeline)

		body := `{"query": "` + strings.Repeat("a", 2001) + `"}`
		resp := postJSON(t, server, "/ask", body)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Empty(t, pipeline.questions)
	})
}

func TestEnvelopeJSONShape(t *testing.T) {
	// All five envelope keys are always present, null when unset.
	msg := "boom"
	pipeline := &fakePipeline{runRawEnv: &orchestrator.Envelope{Error: &msg}}
	server := newTestServer(t, pipeline)

	resp := postJSON(t, server, "/query", `{"sql": "SELECT 1"}`)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, key := range []string{"validated_sql", "execution_result", "summary", "chart_suggestion", "error"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, "null", string(m["validated_sql"]))
	assert.Equal(t, `"boom"`, string(m["error"]))
}

func TestUnknownRouteUsesEnvelopeError(t *testing.T) {
	server := newTestServer(t, &fakePipeline{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	require.NotNil(t, env.Error)
}

func TestCORSHeaders(t *testing.T) {
	server := newTestServer(t, &fakePipeline{})

	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}
