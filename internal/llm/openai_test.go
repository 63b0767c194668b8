package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderChat(t *testing.T) {
	t.Run("sends request and parses completion", func(t *testing.T) {
		var gotReq openAIRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

			_ = json.NewEncoder(w).Encode(openAIResponse{
				ID:    "chatcmpl-1",
				Model: "gpt-4o-mini",
				Choices: []openAIChoice{
					{Message: openAIMessage{Role: "assistant", Content: "SELECT COUNT(*) FROM customers"}, FinishReason: "stop"},
				},
				Usage: &openAIUsage{PromptTokens: 10, CompletionTokens: 8, TotalTokens: 18},
			})
		}))
		defer server.Close()

		p, err := newOpenAIProvider("openai", OpenAIConfig{
			APIKey:  "sk-test",
			Model:   "gpt-4o-mini",
			BaseURL: server.URL,
		})
		require.NoError(t, err)

		resp, err := p.Chat(context.Background(), &ChatRequest{
			Messages: []Message{
				{Role: RoleSystem, Content: "system prompt"},
				{Role: RoleUser, Content: "how many customers?"},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, "gpt-4o-mini", gotReq.Model)
		require.Len(t, gotReq.Messages, 2)
		assert.Equal(t, "system", gotReq.Messages[0].Role)

		assert.Equal(t, "SELECT COUNT(*) FROM customers", resp.Text())
		require.NotNil(t, resp.Usage)
		assert.Equal(t, 18, resp.Usage.TotalTokens)
	})

	t.Run("temperature zero is sent on the wire", func(t *testing.T) {
		var raw map[string]json.RawMessage
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
			_ = json.NewEncoder(w).Encode(openAIResponse{
				Choices: []openAIChoice{{Message: openAIMessage{Role: "assistant", Content: "ok"}}},
			})
		}))
		defer server.Close()

		p, err := newOpenAIProvider("openai", OpenAIConfig{APIKey: "k", Model: "m", BaseURL: server.URL})
		require.NoError(t, err)

		_, err = p.Chat(context.Background(), &ChatRequest{
			Messages:    []Message{{Role: RoleUser, Content: "q"}},
			Temperature: 0,
		})
		require.NoError(t, err)

		require.Contains(t, raw, "temperature")
		assert.Equal(t, "0", string(raw["temperature"]))
	})

	t.Run("surfaces API error payloads", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(openAIResponse{
				Error: &openAIError{Message: "invalid api key", Type: "auth_error", Code: "401"},
			})
		}))
		defer server.Close()

		p, err := newOpenAIProvider("openai", OpenAIConfig{APIKey: "bad", Model: "m", BaseURL: server.URL})
		require.NoError(t, err)

		_, err = p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid api key")
	})

	t.Run("surfaces non-200 without error payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		p, err := newOpenAIProvider("openai", OpenAIConfig{APIKey: "k", Model: "m", BaseURL: server.URL})
		require.NoError(t, err)

		_, err = p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}

func TestNewProvider(t *testing.T) {
	t.Run("openai requires api key", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Type: ProviderTypeOpenAI})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")
	})

	t.Run("ollama requires model", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Type: ProviderTypeOllama})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model")
	})

	t.Run("ollama defaults endpoint", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{Type: ProviderTypeOllama, Model: "llama3"})
		require.NoError(t, err)
		assert.Equal(t, ProviderTypeOllama, p.Type())
		assert.NoError(t, p.ValidateConfig())
	})

	t.Run("unknown provider type", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Type: "azure"})
		assert.Error(t, err)
	})
}

func TestChatResponseText(t *testing.T) {
	assert.Equal(t, "", (&ChatResponse{}).Text())
	var nilResp *ChatResponse
	assert.Equal(t, "", nilResp.Text())
}
