package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// jsonInstruction is appended to the system prompt in JSON mode since the
// Messages API has no response format switch.
const jsonInstruction = "Respond with a single valid JSON object and nothing else."

// AnthropicProvider implements the Provider interface using the Anthropic SDK.
type AnthropicProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string // Optional custom endpoint
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for anthropic")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for anthropic")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client:    &client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *AnthropicProvider) params(req ChatRequest) anthropic.MessageNewParams {
	system, rest := splitSystem(req.Messages)
	if req.JSONMode {
		if system != "" {
			system += "\n\n"
		}
		system += jsonInstruction
	}

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelFor(req, p.model)),
		MaxTokens: int64(maxTokensFor(req, p.maxTokens)),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	return params
}

// Chat implements the Provider interface.
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	result := messageToResponse(resp)
	result.Usage.TotalTime = time.Since(start)
	return result, nil
}

// ChatStream implements the Provider interface.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) (*ChatResponse, error) {
	start := time.Now()
	var firstToken time.Time

	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, &ProviderError{Provider: "anthropic", Message: "failed to accumulate stream", Err: err}
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if firstToken.IsZero() {
					firstToken = time.Now()
				}
				if err := fn(delta.Text); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, p.classify(ctx, err)
	}

	result := messageToResponse(&message)
	if result.Model == "" {
		result.Model = modelFor(req, p.model)
	}
	result.Usage = splitTiming(result.Usage, start, firstToken, time.Now())
	return result, nil
}

func messageToResponse(msg *anthropic.Message) *ChatResponse {
	result := &ChatResponse{
		StopReason: string(msg.StopReason),
		Model:      string(msg.Model),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			result.Content += block.Text
		}
	}
	return result
}

func (p *AnthropicProvider) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{
				Provider:   "anthropic",
				RetryAfter: parseRetryAfter(header, time.Now()),
				Message:    err.Error(),
			}
		}
		return &ProviderError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Message: err.Error(), Err: err}
	}
	return &ProviderError{Provider: "anthropic", Message: err.Error(), Err: err}
}
