// OpenTelemetry tracing for generation runs.

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with generation-specific helpers.
// A nil *Tracer is not valid; use Noop when tracing is off.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include prompts and prose in span attributes
}

func newTracer(t trace.Tracer, debug bool) *Tracer {
	return &Tracer{tracer: t, debug: debug}
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return newTracer(noop.NewTracerProvider().Tracer(""), false)
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Run Spans ---

// RunSpanOptions describes a finished run.
type RunSpanOptions struct {
	Title     string
	Sections  int
	Words     int
	TokensIn  int
	TokensOut int
}

// StartRunSpan starts the root span of one generation.
func (t *Tracer) StartRunSpan(ctx context.Context, runID string, detailed bool) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "bookshelf.run", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.Bool("run.detailed", detailed),
	)
	return ctx, span
}

// EndRunSpan ends a run span with totals.
func (t *Tracer) EndRunSpan(span trace.Span, opts RunSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("run.sections", opts.Sections),
		attribute.Int("run.words", opts.Words),
		attribute.Int("run.tokens.input", opts.TokensIn),
		attribute.Int("run.tokens.output", opts.TokensOut),
	)
	if t.debug && opts.Title != "" {
		span.SetAttributes(attribute.String("run.title", truncate(opts.Title, 200)))
	}
	end(span, err)
}

// --- Stage Spans ---

// StartStageSpan starts a span for one pipeline stage. section is the
// structure key for section and arc stages and empty otherwise.
func (t *Tracer) StartStageSpan(ctx context.Context, stage, section string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "stage."+stage, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("stage.name", stage))
	if section != "" {
		span.SetAttributes(attribute.String("stage.section", section))
	}
	return ctx, span
}

// EndStageSpan ends a stage span.
func (t *Tracer) EndStageSpan(span trace.Span, err error) {
	end(span, err)
}

// --- LLM Spans ---

// LLMSpanOptions contains options for LLM call spans.
type LLMSpanOptions struct {
	Model      string
	Provider   string
	Stream     bool
	TokensIn   int
	TokensOut  int
	StopReason string
	Prompt     string // Only included if debug=true
	Response   string // Only included if debug=true
}

// StartLLMSpan starts a span for an LLM call.
func (t *Tracer) StartLLMSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

// EndLLMSpan ends an LLM span with attributes.
func (t *Tracer) EndLLMSpan(span trace.Span, opts LLMSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", opts.Model),
		attribute.String("llm.provider", opts.Provider),
		attribute.Bool("llm.stream", opts.Stream),
		attribute.Int("llm.tokens.input", opts.TokensIn),
		attribute.Int("llm.tokens.output", opts.TokensOut),
	}
	if opts.StopReason != "" {
		attrs = append(attrs, attribute.String("llm.stop_reason", opts.StopReason))
	}

	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("llm.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("llm.response", truncate(opts.Response, 4000)))
		}
	}

	span.SetAttributes(attrs...)
	end(span, err)
}

// AddEvent records a named event on the span active in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
