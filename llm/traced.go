package llm

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/bookshelf/telemetry"
)

// TracedProvider wraps every call to a provider in a client span.
type TracedProvider struct {
	provider Provider
	tracer   *telemetry.Tracer
	name     string
	model    string
}

// WithTracing wraps a provider with OpenTelemetry spans named llm.chat and
// llm.stream. Spans nest under the span in the call context.
func WithTracing(p Provider, tracer *telemetry.Tracer, providerName, defaultModel string) *TracedProvider {
	return &TracedProvider{provider: p, tracer: tracer, name: providerName, model: defaultModel}
}

// Unwrap returns the wrapped provider.
func (tp *TracedProvider) Unwrap() Provider {
	return tp.provider
}

// Chat implements Provider.
func (tp *TracedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, span := tp.tracer.StartLLMSpan(ctx, "llm.chat")
	resp, err := tp.provider.Chat(ctx, req)
	tp.end(span, req, false, resp, err)
	return resp, err
}

// ChatStream implements Provider.
func (tp *TracedProvider) ChatStream(ctx context.Context, req ChatRequest, fn StreamFunc) (*ChatResponse, error) {
	ctx, span := tp.tracer.StartLLMSpan(ctx, "llm.stream")
	resp, err := tp.provider.ChatStream(ctx, req, fn)
	tp.end(span, req, true, resp, err)
	return resp, err
}

func (tp *TracedProvider) end(span trace.Span, req ChatRequest, stream bool, resp *ChatResponse, err error) {
	opts := telemetry.LLMSpanOptions{
		Model:    modelFor(req, tp.model),
		Provider: tp.name,
		Stream:   stream,
	}
	if tp.tracer.Debug() {
		parts := make([]string, 0, len(req.Messages))
		for _, msg := range req.Messages {
			parts = append(parts, fmt.Sprintf("[%s] %s", msg.Role, msg.Content))
		}
		opts.Prompt = strings.Join(parts, "\n")
	}
	if resp != nil {
		opts.TokensIn = resp.Usage.InputTokens
		opts.TokensOut = resp.Usage.OutputTokens
		opts.StopReason = resp.StopReason
		opts.Response = resp.Content
	}
	if rl, ok := AsRateLimit(err); ok {
		span.AddEvent("rate_limited", trace.WithAttributes(
			attribute.String("retry_after", rl.RetryAfter.String()),
		))
	}
	tp.tracer.EndLLMSpan(span, opts, err)
}
