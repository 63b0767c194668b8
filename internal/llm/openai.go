package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	openAITimeout        = 120 * time.Second
)

// openAIProvider implements the Provider interface for OpenAI
type openAIProvider struct {
	name       string
	config     OpenAIConfig
	httpClient *http.Client
}

func newOpenAIProvider(name string, config OpenAIConfig) (*openAIProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultOpenAIBaseURL
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	return &openAIProvider{
		name:   name,
		config: config,
		httpClient: &http.Client{
			Timeout: openAITimeout,
		},
	}, nil
}

// Name returns the provider name
func (p *openAIProvider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *openAIProvider) Type() ProviderType {
	return ProviderTypeOpenAI
}

// ValidateConfig validates the provider configuration
func (p *openAIProvider) ValidateConfig() error {
	if p.config.APIKey == "" {
		return fmt.Errorf("openai: api_key is required")
	}
	if p.config.Model == "" {
		return fmt.Errorf("openai: model is required")
	}
	return nil
}

// Close cleans up resources
func (p *openAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// openAIRequest represents the OpenAI API request format. Temperature is
// always sent: omitting 0 would silently fall back to the API default of 1.0,
// and the agents rely on temperature 0 for repeatable retries.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

// openAIResponse represents the OpenAI API response format
type openAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Chat sends a chat completion request to OpenAI
func (p *openAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	openaiReq := p.buildRequest(req)

	body, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var openaiResp openAIResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Check for API error
	if openaiResp.Error != nil {
		return nil, fmt.Errorf("openai error: %s (type: %s, code: %s)",
			openaiResp.Error.Message, openaiResp.Error.Type, openaiResp.Error.Code)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if openaiResp.Usage != nil {
		log.Debug().
			Str("model", openaiResp.Model).
			Int("prompt_tokens", openaiResp.Usage.PromptTokens).
			Int("completion_tokens", openaiResp.Usage.CompletionTokens).
			Msg("OpenAI completion")
	}

	return p.convertResponse(&openaiResp), nil
}

// buildRequest converts our ChatRequest to OpenAI format
func (p *openAIProvider) buildRequest(req *ChatRequest) openAIRequest {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	messages := make([]openAIMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	return openAIRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// convertResponse converts the OpenAI response to our format
func (p *openAIProvider) convertResponse(resp *openAIResponse) *ChatResponse {
	out := &ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Choices: make([]Choice, len(resp.Choices)),
	}

	for i, choice := range resp.Choices {
		out.Choices[i] = Choice{
			Index: choice.Index,
			Message: Message{
				Role:    Role(choice.Message.Role),
				Content: choice.Message.Content,
			},
			FinishReason: choice.FinishReason,
		}
	}

	if resp.Usage != nil {
		out.Usage = &UsageStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return out
}
