// Package llm provides LLM provider interfaces and implementations.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Message represents an LLM message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// ChatRequest represents a chat request to the LLM.
type ChatRequest struct {
	Model       string    `json:"model,omitempty"` // overrides the provider default
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`

	// JSONMode asks the provider for a single JSON object.
	JSONMode bool `json:"json_mode,omitempty"`

	// ReasoningHidden suppresses reasoning output on models that emit it.
	ReasoningHidden bool `json:"reasoning_hidden,omitempty"`
}

// Float returns a pointer to v, for ChatRequest sampling fields.
func Float(v float64) *float64 {
	return &v
}

// Usage is the token and timing accounting of one completion.
type Usage struct {
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	InputTime    time.Duration `json:"input_time"`
	OutputTime   time.Duration `json:"output_time"`
	TotalTime    time.Duration `json:"total_time"`
}

// ChatResponse represents a chat response from the LLM.
type ChatResponse struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`
	Model      string `json:"model"`
	Usage      Usage  `json:"usage"`
}

// StreamFunc receives text deltas as they arrive. Returning an error aborts
// the stream.
type StreamFunc func(delta string) error

// Provider is the interface for LLM providers.
//
// Providers do not retry. A 429 is returned as *RateLimitError and any other
// HTTP failure as *ProviderError so the caller can decide.
type Provider interface {
	// Chat sends a chat request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends a chat request and delivers content incrementally to
	// fn. The returned response carries the full content and usage.
	ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) (*ChatResponse, error)
}

// ProviderConfig holds configuration for NewProvider.
type ProviderConfig struct {
	Provider  string        `json:"provider"` // groq, openai, anthropic, google, mistral, openrouter, ollama, openai-compat
	Model     string        `json:"model"`    // default model when a request names none
	APIKey    string        `json:"api_key"`
	MaxTokens int           `json:"max_tokens"` // default when a request names none
	BaseURL   string        `json:"base_url"`   // custom endpoint
	Timeout   time.Duration `json:"timeout"`    // per HTTP request; 0 selects DefaultTimeout
}

// DefaultTimeout bounds a single provider HTTP request.
const DefaultTimeout = 5 * time.Minute

// Validate validates the configuration.
func (c *ProviderConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" && !IsLocalProvider(c.Provider) {
		return fmt.Errorf("api key is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	return nil
}

// IsLocalProvider reports whether name runs without an API key.
func IsLocalProvider(name string) bool {
	return name == "ollama" || name == "openai-compat"
}

func (c *ProviderConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// modelFor returns the request model or the default.
func modelFor(req ChatRequest, def string) string {
	if req.Model != "" {
		return req.Model
	}
	return def
}

// maxTokensFor returns the request limit or the default.
func maxTokensFor(req ChatRequest, def int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if def > 0 {
		return def
	}
	return defaultMaxTokens
}

const defaultMaxTokens = 4096

// splitSystem separates the system prompt from conversation messages.
func splitSystem(msgs []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
