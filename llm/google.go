package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GoogleProvider implements the Provider interface using the Gemini SDK.
// A GenerativeModel is configured per request, so one provider is safe to
// share between concurrent agents.
type GoogleProvider struct {
	client    *genai.Client
	modelName string
	maxTokens int
}

// GoogleConfig holds configuration for the Google provider.
type GoogleConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// NewGoogleProvider creates a new Google provider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for google")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for google")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleProvider{
		client:    client,
		modelName: cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Close releases the underlying client.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

// session builds a configured chat session and returns the final user
// prompt to send.
func (p *GoogleProvider) session(req ChatRequest) (*genai.ChatSession, genai.Text) {
	model := p.client.GenerativeModel(modelFor(req, p.modelName))
	model.SetMaxOutputTokens(int32(maxTokensFor(req, p.maxTokens)))
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}
	if req.TopP != nil {
		model.SetTopP(float32(*req.TopP))
	}
	if len(req.Stop) > 0 {
		model.StopSequences = req.Stop
	}
	if req.JSONMode {
		model.ResponseMIMEType = "application/json"
	}

	system, rest := splitSystem(req.Messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := model.StartChat()
	var prompt genai.Text
	for i, m := range rest {
		if i == len(rest)-1 && m.Role != "assistant" {
			prompt = genai.Text(m.Content)
			break
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return cs, prompt
}

// Chat implements the Provider interface.
func (p *GoogleProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	cs, prompt := p.session(req)

	resp, err := cs.SendMessage(ctx, prompt)
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	result := &ChatResponse{Model: modelFor(req, p.modelName)}
	result.Content, result.StopReason = candidateText(resp)
	result.Usage = googleUsage(resp)
	result.Usage.TotalTime = time.Since(start)
	return result, nil
}

// ChatStream implements the Provider interface.
func (p *GoogleProvider) ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) (*ChatResponse, error) {
	start := time.Now()
	var firstToken time.Time
	cs, prompt := p.session(req)

	result := &ChatResponse{Model: modelFor(req, p.modelName)}
	var content strings.Builder

	iter := cs.SendMessageStream(ctx, prompt)
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, p.classify(ctx, err)
		}

		text, stop := candidateText(resp)
		if stop != "" {
			result.StopReason = stop
		}
		if text != "" {
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			content.WriteString(text)
			if err := fn(text); err != nil {
				return nil, err
			}
		}
		if resp.UsageMetadata != nil {
			result.Usage = googleUsage(resp)
		}
	}

	result.Content = content.String()
	result.Usage = splitTiming(result.Usage, start, firstToken, time.Now())
	return result, nil
}

func candidateText(resp *genai.GenerateContentResponse) (string, string) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ""
	}
	candidate := resp.Candidates[0]
	var stop string
	if candidate.FinishReason != 0 {
		stop = candidate.FinishReason.String()
	}
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return sb.String(), stop
}

func googleUsage(resp *genai.GenerateContentResponse) Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

func (p *GoogleProvider) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return &RateLimitError{
				Provider:   "google",
				RetryAfter: parseRetryAfter(gerr.Header, time.Now()),
				Message:    gerr.Message,
			}
		}
		return &ProviderError{Provider: "google", StatusCode: gerr.Code, Message: gerr.Message, Err: err}
	}
	// The gRPC transport only exposes status text.
	if isRateLimitError(err) {
		return &RateLimitError{Provider: "google", Message: err.Error()}
	}
	return &ProviderError{Provider: "google", Message: err.Error(), Err: err}
}
