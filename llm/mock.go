package llm

import (
	"context"
	"sync"
)

// MockProvider is a mock LLM provider for testing. It is safe for
// concurrent use.
type MockProvider struct {
	mu           sync.Mutex
	responses    []string // served in order; the last one repeats
	inputTokens  int
	outputTokens int
	stopReason   string
	model        string
	requests     []ChatRequest
	err          error
	callCount    int

	// ChatFunc can be overridden for custom behavior. It also backs
	// ChatStream when StreamFunc is nil.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// StreamFunc overrides ChatStream.
	StreamFunc func(ctx context.Context, req ChatRequest, fn StreamFunc) (*ChatResponse, error)
}

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		stopReason: "stop",
		model:      "mock-model",
	}
}

// SetResponse sets the response content.
func (p *MockProvider) SetResponse(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = []string{content}
}

// SetResponses sets a sequence of responses served one per call.
func (p *MockProvider) SetResponses(contents ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append([]string(nil), contents...)
}

// SetTokenCounts sets the token counts.
func (p *MockProvider) SetTokenCounts(input, output int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputTokens = input
	p.outputTokens = output
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// LastRequest returns the last request.
func (p *MockProvider) LastRequest() *ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// Requests returns all requests received.
func (p *MockProvider) Requests() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChatRequest(nil), p.requests...)
}

// CallCount returns the number of calls made.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

// Reset resets the call count and recorded requests.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callCount = 0
	p.requests = nil
}

func (p *MockProvider) next(req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.callCount
	p.callCount++
	p.requests = append(p.requests, req)

	if p.err != nil {
		return nil, p.err
	}
	var content string
	if n := len(p.responses); n > 0 {
		if idx >= n {
			idx = n - 1
		}
		content = p.responses[idx]
	}
	return &ChatResponse{
		Content:    content,
		StopReason: p.stopReason,
		Model:      modelFor(req, p.model),
		Usage: Usage{
			InputTokens:  p.inputTokens,
			OutputTokens: p.outputTokens,
		},
	}, nil
}

// Chat implements the Provider interface.
func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if p.ChatFunc != nil {
		p.record(req)
		return p.ChatFunc(ctx, req)
	}
	return p.next(req)
}

// ChatStream implements the Provider interface. The response content is
// delivered as a single delta unless StreamFunc is set.
func (p *MockProvider) ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) (*ChatResponse, error) {
	if p.StreamFunc != nil {
		p.record(req)
		return p.StreamFunc(ctx, req, fn)
	}

	var (
		resp *ChatResponse
		err  error
	)
	if p.ChatFunc != nil {
		p.record(req)
		resp, err = p.ChatFunc(ctx, req)
	} else {
		resp, err = p.next(req)
	}
	if err != nil {
		return nil, err
	}
	if resp.Content != "" {
		if err := fn(resp.Content); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (p *MockProvider) record(req ChatRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callCount++
	p.requests = append(p.requests, req)
}
