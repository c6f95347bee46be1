package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vinayprograms/bookshelf/telemetry"
)

func newTraced(t *testing.T, p Provider) (*TracedProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp, err := telemetry.NewProvider(telemetry.ProviderConfig{Debug: true}, exp)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return WithTracing(p, tp.Tracer(), "mockprov", "mock-model"), exp
}

func TestTracedProvider_Spans(t *testing.T) {
	mock := NewMockProvider()
	mock.SetResponse("The Shifting City")
	mock.SetTokenCounts(12, 4)
	p, exp := newTraced(t, mock)

	req := ChatRequest{Messages: []Message{SystemMessage("sys"), UserMessage("title please")}}
	if _, err := p.Chat(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ChatStream(context.Background(), req, func(string) error { return nil }); err != nil {
		t.Fatal(err)
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	tests := []struct {
		name   string
		stream bool
	}{
		{"llm.chat", false},
		{"llm.stream", true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := spans[i]
			if s.Name != tt.name {
				t.Fatalf("name = %q", s.Name)
			}
			got := map[string]interface{}{}
			for _, kv := range s.Attributes {
				got[string(kv.Key)] = kv.Value.AsInterface()
			}
			if got["llm.model"] != "mock-model" || got["llm.provider"] != "mockprov" {
				t.Errorf("attributes = %v", got)
			}
			if got["llm.stream"] != tt.stream {
				t.Errorf("llm.stream = %v, want %v", got["llm.stream"], tt.stream)
			}
			if got["llm.tokens.input"] != int64(12) {
				t.Errorf("llm.tokens.input = %v", got["llm.tokens.input"])
			}
			if got["llm.prompt"] != "[system] sys\n[user] title please" {
				t.Errorf("llm.prompt = %v", got["llm.prompt"])
			}
		})
	}
}

func TestTracedProvider_RateLimited(t *testing.T) {
	mock := NewMockProvider()
	mock.SetError(&RateLimitError{Provider: "mockprov", RetryAfter: 30 * time.Second})
	p, exp := newTraced(t, mock)

	_, err := p.Chat(context.Background(), ChatRequest{})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status.Code)
	}
	var found bool
	for _, ev := range s.Events {
		if ev.Name == "rate_limited" {
			found = true
			if len(ev.Attributes) == 0 || ev.Attributes[0].Value.AsString() != "30s" {
				t.Errorf("retry_after = %v", ev.Attributes)
			}
		}
	}
	if !found {
		t.Error("no rate_limited event")
	}
	if p.Unwrap() != mock {
		t.Error("Unwrap should return the wrapped provider")
	}
}
