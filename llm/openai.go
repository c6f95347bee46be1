package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements the Provider interface using the official OpenAI SDK.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // Optional custom endpoint
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewOpenAIProvider creates a new OpenAI provider using the official SDK.
// SDK retries are disabled; retry.Caller owns retries.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for openai")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for openai")
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

	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		client:    &client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *OpenAIProvider) params(req ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(modelFor(req, p.model)),
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokensFor(req, p.maxTokens))),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Chat implements the Provider interface.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	result := &ChatResponse{
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTime:    time.Since(start),
		},
	}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
		result.StopReason = string(resp.Choices[0].FinishReason)
	}
	return result, nil
}

// ChatStream implements the Provider interface.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) (*ChatResponse, error) {
	params := p.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	start := time.Now()
	var firstToken time.Time

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			if err := fn(chunk.Choices[0].Delta.Content); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, p.classify(ctx, err)
	}

	result := &ChatResponse{
		Model: acc.Model,
		Usage: Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		},
	}
	if result.Model == "" {
		result.Model = modelFor(req, p.model)
	}
	if len(acc.Choices) > 0 {
		result.Content = acc.Choices[0].Message.Content
		result.StopReason = string(acc.Choices[0].FinishReason)
	}
	result.Usage = splitTiming(result.Usage, start, firstToken, time.Now())
	return result, nil
}

// classify converts SDK errors into RateLimitError / ProviderError.
func (p *OpenAIProvider) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		if apiErr.StatusCode == http.StatusTooManyRequests && !isBillingError(err) {
			return &RateLimitError{
				Provider:   "openai",
				RetryAfter: parseRetryAfter(header, time.Now()),
				Message:    apiErr.Message,
			}
		}
		return &ProviderError{Provider: "openai", StatusCode: apiErr.StatusCode, Message: strings.TrimSpace(apiErr.Message), Err: err}
	}
	return &ProviderError{Provider: "openai", Message: err.Error(), Err: err}
}

// splitTiming fills input/output/total time from wall-clock marks when the
// provider reports none. Time to first token counts as input time.
func splitTiming(u Usage, start, firstToken, end time.Time) Usage {
	if u.TotalTime == 0 {
		u.TotalTime = end.Sub(start)
	}
	if u.InputTime == 0 && u.OutputTime == 0 && !firstToken.IsZero() {
		u.InputTime = firstToken.Sub(start)
		u.OutputTime = end.Sub(firstToken)
	}
	return u
}
