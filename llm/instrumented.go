package llm

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/bookshelf/metrics"
)

// InstrumentedProvider records Prometheus metrics for every call to the
// wrapped provider.
type InstrumentedProvider struct {
	provider Provider
	name     string
	model    string
}

// WithMetrics wraps a provider with request, latency and token metrics.
func WithMetrics(p Provider, providerName, defaultModel string) *InstrumentedProvider {
	return &InstrumentedProvider{provider: p, name: providerName, model: defaultModel}
}

// Unwrap returns the wrapped provider.
func (ip *InstrumentedProvider) Unwrap() Provider {
	return ip.provider
}

// Chat implements Provider.
func (ip *InstrumentedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := ip.provider.Chat(ctx, req)
	ip.observe(modelFor(req, ip.model), start, resp, err)
	return resp, err
}

// ChatStream implements Provider.
func (ip *InstrumentedProvider) ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) (*ChatResponse, error) {
	start := time.Now()
	resp, err := ip.provider.ChatStream(ctx, req, fn)
	ip.observe(modelFor(req, ip.model), start, resp, err)
	return resp, err
}

func (ip *InstrumentedProvider) observe(model string, start time.Time, resp *ChatResponse, err error) {
	metrics.LLMRequestsTotal.WithLabelValues(ip.name, model, statusLabel(err)).Inc()
	metrics.LLMRequestDuration.WithLabelValues(ip.name, model).Observe(time.Since(start).Seconds())
	if resp != nil {
		metrics.LLMTokensTotal.WithLabelValues(ip.name, model, "input").Add(float64(resp.Usage.InputTokens))
		metrics.LLMTokensTotal.WithLabelValues(ip.name, model, "output").Add(float64(resp.Usage.OutputTokens))
	}
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if _, ok := AsRateLimit(err); ok {
		return "rate_limited"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}
