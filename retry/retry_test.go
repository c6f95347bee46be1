package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	bkerrors "github.com/vinayprograms/bookshelf/errors"
	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/logging"
	"github.com/vinayprograms/bookshelf/metrics"
	"github.com/vinayprograms/bookshelf/novel"
	"github.com/vinayprograms/bookshelf/ratelimit"
)

// fakeClock advances on every sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type harness struct {
	clock    *fakeClock
	limiter  *ratelimit.TokenLimiter
	provider *llm.MockProvider
	caller   *Caller
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	core, logs := observer.New(zapcore.DebugLevel)
	logger := logging.NewFromZap(zap.New(core))

	limiter, err := ratelimit.NewTokenLimiter(ratelimit.Config{},
		ratelimit.WithClock(clock.Now),
		ratelimit.WithSleep(clock.Sleep),
		ratelimit.WithJitter(func() time.Duration { return 0 }),
		ratelimit.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("NewTokenLimiter: %v", err)
	}
	provider := llm.NewMockProvider()
	caller := New(provider, limiter, WithLogger(logger), WithClock(clock.Now))
	return &harness{clock: clock, limiter: limiter, provider: provider, caller: caller, logs: logs}
}

// script serves one step per call; the last step repeats.
func script(steps ...func() (*llm.ChatResponse, error)) func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		mu.Lock()
		step := steps[i]
		if i < len(steps)-1 {
			i++
		}
		mu.Unlock()
		return step()
	}
}

func reply(content string, in, out int) func() (*llm.ChatResponse, error) {
	return func() (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: content, Model: "test-model", Usage: llm.Usage{InputTokens: in, OutputTokens: out}}, nil
	}
}

func fail(err error) func() (*llm.ChatResponse, error) {
	return func() (*llm.ChatResponse, error) { return nil, err }
}

func testRequest() llm.ChatRequest {
	return llm.ChatRequest{
		Model: "test-model",
		Messages: []llm.Message{
			llm.SystemMessage(strings.Repeat("s", 40)),
			llm.UserMessage(strings.Repeat("u", 40)),
		},
		MaxTokens: 100,
	}
}

func textSpec(name string) Spec[string] {
	return Spec[string]{
		Name:    name,
		Request: testRequest(),
		Policy:  Policy{MaxAttempts: 3, BaseDelay: time.Second},
		Parse: func(s string) (string, error) {
			if s == "" {
				return "", errors.New("empty")
			}
			return s, nil
		},
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name      string
		allowance int
		want      int
	}{
		{name: "max tokens", allowance: 0, want: 120},
		{name: "allowance", allowance: 30, want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(testRequest(), tt.allowance); got != tt.want {
				t.Errorf("EstimateTokens = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCall_SuccessReconcilesUsage(t *testing.T) {
	h := newHarness(t)
	h.provider.ChatFunc = script(reply("The Glass Orchard", 300, 200))

	stats, title, err := Call(context.Background(), h.caller, textSpec("title"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if title != "The Glass Orchard" {
		t.Errorf("title = %q", title)
	}
	if stats.InputTokens != 300 || stats.OutputTokens != 200 || stats.Model != "test-model" {
		t.Errorf("stats = %+v", stats)
	}
	// estimate 120 admitted, then 380 excess reconciled
	if got := h.limiter.Snapshot().Used; got != 500 {
		t.Errorf("window used = %d, want 500", got)
	}
	if len(h.clock.Sleeps()) != 0 {
		t.Errorf("unexpected sleeps %v", h.clock.Sleeps())
	}
}

func TestCall_MalformedFallsBack(t *testing.T) {
	h := newHarness(t)
	h.provider.SetResponse(`{"characters": [{"name": "Ada", `)
	before := testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("characters"))

	var notices []string
	var outcomes []Outcome
	spec := Spec[novel.Cast]{
		Name:    "characters",
		Request: testRequest(),
		Policy:  DefaultPolicy,
		Parse:   func(s string) (novel.Cast, error) { return novel.ParseCharacters([]byte(s)) },
		Fallback: func(err error) novel.Cast {
			return novel.PlaceholderCast(4, "generation failed: "+err.Error())
		},
		Notify:    func(msg string) { notices = append(notices, msg) },
		OnAttempt: func(a Attempt) { outcomes = append(outcomes, a.Outcome) },
	}

	_, cast, err := Call(context.Background(), h.caller, spec)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if h.provider.CallCount() != 3 {
		t.Errorf("calls = %d, want 3", h.provider.CallCount())
	}
	if len(cast) != 4 {
		t.Fatalf("cast = %d, want 4", len(cast))
	}
	for _, c := range cast {
		if !strings.HasPrefix(c.UpdateStatus, "generation failed") {
			t.Errorf("UpdateStatus = %q", c.UpdateStatus)
		}
	}
	for i, o := range outcomes {
		if o != OutcomeMalformed {
			t.Errorf("attempt %d outcome = %s", i, o)
		}
	}
	if got := h.clock.Sleeps(); len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Errorf("sleeps = %v, want [1s 2s]", got)
	}
	if len(notices) != 3 {
		t.Errorf("notices = %v", notices)
	}
	if after := testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("characters")); after != before+1 {
		t.Errorf("fallbacks metric = %v, want %v", after, before+1)
	}
	if h.logs.FilterMessage("fallback_used").Len() != 1 {
		t.Error("expected one fallback_used log entry")
	}
}

func TestCall_MalformedWithoutFallback(t *testing.T) {
	h := newHarness(t)
	h.provider.SetResponse("")

	_, _, err := Call(context.Background(), h.caller, textSpec("plot"))
	if !bkerrors.Is(err, bkerrors.ErrCodeMalformed) {
		t.Fatalf("err = %v, want MALFORMED_RESPONSE", err)
	}
	if h.provider.CallCount() != 3 {
		t.Errorf("calls = %d, want 3", h.provider.CallCount())
	}
	if ce := bkerrors.AsClassified(err); ce == nil {
		t.Error("expected classified error")
	}
}

func TestCall_MalformedThenValid(t *testing.T) {
	h := newHarness(t)
	h.provider.SetResponses("", "Second Try")

	stats, title, err := Call(context.Background(), h.caller, textSpec("title"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if title != "Second Try" {
		t.Errorf("title = %q", title)
	}
	if h.provider.CallCount() != 2 {
		t.Errorf("calls = %d", h.provider.CallCount())
	}
	_ = stats
}

func TestCall_RateLimitHonorsRetryAfter(t *testing.T) {
	h := newHarness(t)
	h.provider.ChatFunc = script(
		fail(&llm.RateLimitError{Provider: "mock", RetryAfter: 30 * time.Second, Message: "slow down"}),
		reply("Title", 10, 10),
	)
	var notices []string
	spec := textSpec("title")
	spec.Notify = func(msg string) { notices = append(notices, msg) }

	_, _, err := Call(context.Background(), h.caller, spec)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	sleeps := h.clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 30*time.Second {
		t.Errorf("sleeps = %v, want [30s]", sleeps)
	}
	if len(notices) != 1 || !strings.Contains(notices[0], "rate limited") {
		t.Errorf("notices = %v", notices)
	}
	if h.logs.FilterMessage("rate_limit_pause").Len() != 1 {
		t.Error("expected a rate_limit_pause log entry")
	}
}

func TestCall_RateLimitPausesSharedLimiter(t *testing.T) {
	h := newHarness(t)
	h.provider.SetError(&llm.RateLimitError{Provider: "mock"})

	_, _, err := Call(context.Background(), h.caller, textSpec("title"))
	if !bkerrors.Is(err, bkerrors.ErrCodeRateLimit) {
		t.Fatalf("err = %v, want RATE_LIMITED", err)
	}
	if h.provider.CallCount() != 3 {
		t.Errorf("calls = %d, want 3", h.provider.CallCount())
	}
	if !h.limiter.Snapshot().Paused {
		t.Error("limiter should still be paused after the last 429")
	}
}

func TestCall_ProviderErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  bkerrors.ErrorCode
		wantCalls int
	}{
		{
			name:      "unauthorized is immediate",
			err:       &llm.ProviderError{Provider: "mock", StatusCode: 401, Message: "bad key"},
			wantCode:  bkerrors.ErrCodeUnauthorized,
			wantCalls: 1,
		},
		{
			name:      "billing is immediate",
			err:       &llm.ProviderError{Provider: "mock", StatusCode: 402, Message: "payment required"},
			wantCode:  bkerrors.ErrCodeBilling,
			wantCalls: 1,
		},
		{
			name:      "bad request is immediate",
			err:       &llm.ProviderError{Provider: "mock", StatusCode: 400, Message: "bad request"},
			wantCode:  bkerrors.ErrCodeProvider,
			wantCalls: 1,
		},
		{
			name:      "unclassified error is immediate",
			err:       errors.New("boom"),
			wantCode:  bkerrors.ErrCodeProvider,
			wantCalls: 1,
		},
		{
			name:      "server error retries then surfaces",
			err:       &llm.ProviderError{Provider: "mock", StatusCode: 503, Message: "overloaded"},
			wantCode:  bkerrors.ErrCodeUnavailable,
			wantCalls: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.provider.SetError(tt.err)

			_, _, err := Call(context.Background(), h.caller, textSpec("title"))
			if code := bkerrors.Code(err); code != tt.wantCode {
				t.Errorf("code = %s, want %s (err %v)", code, tt.wantCode, err)
			}
			if h.provider.CallCount() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", h.provider.CallCount(), tt.wantCalls)
			}
			if !errors.Is(err, tt.err) {
				t.Error("provider error should stay in the chain")
			}
		})
	}
}

func TestCall_TransientThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.provider.ChatFunc = script(
		fail(&llm.ProviderError{Provider: "mock", StatusCode: 500, Message: "oops"}),
		fail(&llm.ProviderError{Provider: "mock", Message: "connection reset"}),
		reply("Title", 1, 1),
	)
	_, _, err := Call(context.Background(), h.caller, textSpec("title"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := h.clock.Sleeps(); len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Errorf("sleeps = %v, want [1s 2s]", got)
	}
}

func TestCall_Canceled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.provider.ChatFunc = func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, _, err := Call(ctx, h.caller, textSpec("title"))
	if !bkerrors.Is(err, bkerrors.ErrCodeCanceled) {
		t.Fatalf("err = %v, want CANCELED", err)
	}
	if h.provider.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", h.provider.CallCount())
	}
}

func TestCall_OversizePromptFailsFast(t *testing.T) {
	h := newHarness(t)
	spec := textSpec("section")
	spec.Request.Messages = append(spec.Request.Messages, llm.UserMessage(strings.Repeat("x", 4*5400)))

	_, _, err := Call(context.Background(), h.caller, spec)
	if !bkerrors.Is(err, bkerrors.ErrCodeCapacity) {
		t.Fatalf("err = %v, want CAPACITY_EXHAUSTED", err)
	}
	if !errors.Is(err, ratelimit.ErrRequestTooLarge) {
		t.Error("expected ErrRequestTooLarge in chain")
	}
	if h.provider.CallCount() != 0 {
		t.Errorf("provider called %d times", h.provider.CallCount())
	}
}

func TestCall_ClampsOutputToHeadroom(t *testing.T) {
	tests := []struct {
		name          string
		allowance     int
		wantMaxTokens int
		wantUsed      int
	}{
		// 80 prompt chars leave 5380 of the 5400 effective limit.
		{name: "max tokens", allowance: 0, wantMaxTokens: 5380, wantUsed: 5400},
		{name: "allowance", allowance: 6000, wantMaxTokens: 5380, wantUsed: 5400},
		{name: "fits", allowance: 2000, wantMaxTokens: 5380, wantUsed: 2020},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.provider.SetResponse("prose")
			spec := textSpec("section")
			spec.Request.MaxTokens = 8000
			spec.Policy.OutputAllowance = tt.allowance

			if _, _, err := Call(context.Background(), h.caller, spec); err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got := h.provider.LastRequest().MaxTokens; got != tt.wantMaxTokens {
				t.Errorf("MaxTokens = %d, want %d", got, tt.wantMaxTokens)
			}
			if got := h.limiter.Snapshot().Used; got != tt.wantUsed {
				t.Errorf("window used = %d, want %d", got, tt.wantUsed)
			}
		})
	}
}

func TestCall_OutputAllowanceAdmitsLargeBudget(t *testing.T) {
	h := newHarness(t)
	h.provider.SetResponse("prose")
	spec := textSpec("section")
	spec.Request.MaxTokens = 8000
	spec.Policy.OutputAllowance = 2000

	if _, _, err := Call(context.Background(), h.caller, spec); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := h.limiter.Snapshot().Used; got != 2020 {
		t.Errorf("window used = %d, want 2020", got)
	}
}

func TestCall_SharedLimiterDefersSecondCaller(t *testing.T) {
	h := newHarness(t)
	h.provider.ChatFunc = script(reply("ok", 0, 0))
	spec := textSpec("title")
	spec.Request.MaxTokens = 3000

	for i := 0; i < 2; i++ {
		if _, _, err := Call(context.Background(), h.caller, spec); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// 2 x 3020 exceeds 5400; the second call waits for the first to age out.
	sleeps := h.clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != time.Minute {
		t.Errorf("sleeps = %v, want [1m0s]", sleeps)
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want bkerrors.ErrorCode
	}{
		{&llm.RateLimitError{Provider: "p"}, bkerrors.ErrCodeRateLimit},
		{&llm.ProviderError{StatusCode: 403}, bkerrors.ErrCodeUnauthorized},
		{&llm.ProviderError{StatusCode: 402}, bkerrors.ErrCodeBilling},
		{&llm.ProviderError{StatusCode: 502}, bkerrors.ErrCodeUnavailable},
		{&llm.ProviderError{StatusCode: 422}, bkerrors.ErrCodeProvider},
		{fmt.Errorf("wrapped: %w", errors.New("x")), bkerrors.ErrCodeProvider},
	}
	for _, tt := range tests {
		if got := codeFor(tt.err); got != tt.want {
			t.Errorf("codeFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
