// Package llm provides chat-completion providers for the agent pipeline.
package llm

import (
	"context"
	"fmt"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderTypeOpenAI ProviderType = "openai"
	ProviderTypeOllama ProviderType = "ollama"
)

// Role represents the role of a message in a conversation
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a message in a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a request to the LLM provider
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse represents a response from the LLM provider
type ChatResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []Choice    `json:"choices"`
	Usage   *UsageStats `json:"usage,omitempty"`
}

// Choice represents a single completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// UsageStats represents token usage statistics
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Text returns the content of the first choice, or "" when the response is
// empty.
func (r *ChatResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Type returns the provider type
	Type() ProviderType

	// Chat sends a chat completion request
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ValidateConfig validates the provider configuration
	ValidateConfig() error

	// Close cleans up any resources
	Close() error
}

// OpenAIConfig represents OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"` // For API-compatible services
}

// OllamaConfig represents Ollama-specific configuration
type OllamaConfig struct {
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
}

// ProviderConfig represents the configuration for a provider
type ProviderConfig struct {
	Type    ProviderType `json:"type"`
	APIKey  string       `json:"api_key"`
	Model   string       `json:"model"`
	BaseURL string       `json:"base_url,omitempty"`
}

// NewProvider creates an LLM provider based on the configuration
func NewProvider(config ProviderConfig) (Provider, error) {
	switch config.Type {
	case ProviderTypeOpenAI:
		openaiConfig := OpenAIConfig{
			APIKey:  config.APIKey,
			Model:   config.Model,
			BaseURL: config.BaseURL,
		}
		if openaiConfig.APIKey == "" {
			return nil, fmt.Errorf("openai: api_key is required")
		}
		if openaiConfig.Model == "" {
			openaiConfig.Model = "gpt-4o-mini"
		}
		return newOpenAIProvider("openai", openaiConfig)
	case ProviderTypeOllama:
		ollamaConfig := OllamaConfig{
			Endpoint: config.BaseURL,
			Model:    config.Model,
		}
		if ollamaConfig.Endpoint == "" {
			ollamaConfig.Endpoint = "http://localhost:11434"
		}
		if ollamaConfig.Model == "" {
			return nil, fmt.Errorf("ollama: model is required")
		}
		return newOllamaProvider("ollama", ollamaConfig)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}
