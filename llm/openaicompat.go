package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatProvider implements the Provider interface for OpenAI-compatible
// APIs over plain HTTP. This includes Groq, Mistral, OpenRouter and local
// Ollama. Groq's x_groq usage trailer and timing fields are understood.
type OpenAICompatProvider struct {
	apiKey       string
	baseURL      string
	model        string
	maxTokens    int
	providerName string
	client       *http.Client
}

// OpenAICompatConfig holds configuration for OpenAI-compatible providers.
type OpenAICompatConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	ProviderName string // For logging/identification
	Timeout      time.Duration
	HTTPClient   *http.Client // optional, for tests
}

// NewOpenAICompatProvider creates a new OpenAI-compatible provider.
func NewOpenAICompatProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for openai-compatible provider")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compat"
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &OpenAICompatProvider{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		providerName: cfg.ProviderName,
		client:       client,
	}, nil
}

// OpenAI-compatible request/response types

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponseFormat struct {
	Type string `json:"type"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiRequest struct {
	Model           string             `json:"model"`
	Messages        []oaiMessage       `json:"messages"`
	MaxTokens       int                `json:"max_tokens,omitempty"`
	Temperature     *float64           `json:"temperature,omitempty"`
	TopP            *float64           `json:"top_p,omitempty"`
	Stop            []string           `json:"stop,omitempty"`
	Stream          bool               `json:"stream,omitempty"`
	StreamOptions   *oaiStreamOptions  `json:"stream_options,omitempty"`
	ResponseFormat  *oaiResponseFormat `json:"response_format,omitempty"`
	ReasoningFormat string             `json:"reasoning_format,omitempty"`
}

// oaiUsage carries token counts and, on Groq, timings in seconds.
type oaiUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	PromptTime       float64 `json:"prompt_time"`
	CompletionTime   float64 `json:"completion_time"`
	TotalTime        float64 `json:"total_time"`
}

func (u *oaiUsage) toUsage() Usage {
	if u == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		InputTime:    seconds(u.PromptTime),
		OutputTime:   seconds(u.CompletionTime),
		TotalTime:    seconds(u.TotalTime),
	}
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type oaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage oaiUsage  `json:"usage"`
	Error *oaiError `json:"error,omitempty"`
}

type oaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage,omitempty"`
	XGroq *struct {
		Usage *oaiUsage `json:"usage,omitempty"`
	} `json:"x_groq,omitempty"`
	Error *oaiError `json:"error,omitempty"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (p *OpenAICompatProvider) buildRequest(req ChatRequest, stream bool) oaiRequest {
	messages := make([]oaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, oaiMessage{Role: m.Role, Content: m.Content})
	}

	oaiReq := oaiRequest{
		Model:       modelFor(req, p.model),
		Messages:    messages,
		MaxTokens:   maxTokensFor(req, p.maxTokens),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if stream {
		oaiReq.StreamOptions = &oaiStreamOptions{IncludeUsage: true}
	}
	if req.JSONMode {
		oaiReq.ResponseFormat = &oaiResponseFormat{Type: "json_object"}
	}
	if req.ReasoningHidden {
		oaiReq.ReasoningFormat = "hidden"
	}
	return oaiReq
}

// Chat implements the Provider interface.
func (p *OpenAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	httpResp, err := p.post(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: p.providerName, Message: "failed to read response", Err: err}
	}

	var resp oaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &ProviderError{Provider: p.providerName, Message: "failed to parse response", Err: err}
	}
	if resp.Error != nil {
		return nil, &ProviderError{Provider: p.providerName, Message: resp.Error.Message}
	}

	result := &ChatResponse{
		Model: resp.Model,
		Usage: resp.Usage.toUsage(),
	}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
		result.StopReason = resp.Choices[0].FinishReason
	}
	return result, nil
}

// ChatStream implements the Provider interface using server-sent events.
func (p *OpenAICompatProvider) ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) (*ChatResponse, error) {
	httpResp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	result := &ChatResponse{Model: modelFor(req, p.model)}
	var content strings.Builder

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, &ProviderError{Provider: p.providerName, Message: "malformed stream chunk", Err: err}
		}
		if chunk.Error != nil {
			return nil, &ProviderError{Provider: p.providerName, Message: chunk.Error.Message}
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				content.WriteString(c.Delta.Content)
				if err := fn(c.Delta.Content); err != nil {
					return nil, err
				}
			}
			if c.FinishReason != nil {
				result.StopReason = *c.FinishReason
			}
		}
		if chunk.XGroq != nil && chunk.XGroq.Usage != nil {
			result.Usage = chunk.XGroq.Usage.toUsage()
		} else if chunk.Usage != nil {
			result.Usage = chunk.Usage.toUsage()
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: p.providerName, Message: "stream interrupted", Err: err}
	}

	result.Content = content.String()
	return result, nil
}

// post sends the request and returns the response when the status is 200.
func (p *OpenAICompatProvider) post(ctx context.Context, req oaiRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: p.providerName, Message: "request failed", Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return nil, classifyStatus(p.providerName, httpResp.StatusCode, httpResp.Header, string(respBody))
	}
	return httpResp, nil
}

// Provider-specific base URLs
const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	MistralBaseURL    = "https://api.mistral.ai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OllamaLocalURL    = "http://localhost:11434/v1"
)

// NewGroqProvider creates a Groq provider (uses OpenAI-compatible API).
func NewGroqProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GroqBaseURL
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "groq"
	}
	return NewOpenAICompatProvider(cfg)
}

// NewMistralProvider creates a Mistral provider (uses OpenAI-compatible API).
func NewMistralProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralBaseURL
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "mistral"
	}
	return NewOpenAICompatProvider(cfg)
}

// NewOpenRouterProvider creates an OpenRouter provider (uses OpenAI-compatible API).
func NewOpenRouterProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openrouter"
	}
	return NewOpenAICompatProvider(cfg)
}

// NewOllamaLocalProvider creates an Ollama local provider (uses OpenAI-compatible API).
func NewOllamaLocalProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OllamaLocalURL
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "ollama"
	}
	// API key not required for local
	return NewOpenAICompatProvider(cfg)
}
