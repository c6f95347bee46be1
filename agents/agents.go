package agents

import (
	"fmt"
	"sort"
	"time"

	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/retry"
)

// Kind names a generation agent.
type Kind string

const (
	KindTitle        Kind = "title"
	KindCharacters   Kind = "characters"
	KindPlot         Kind = "plot"
	KindStructure    Kind = "structure"
	KindArcs         Kind = "arcs"
	KindSection      Kind = "section"
	KindNovelSection Kind = "novel_section"
)

// Kinds lists every agent in pipeline order.
func Kinds() []Kind {
	return []Kind{KindTitle, KindCharacters, KindPlot, KindStructure, KindArcs, KindSection, KindNovelSection}
}

// Models offered for generation.
const (
	ModelDeepSeekR1 = "deepseek-r1-distill-llama-70b"
	ModelLlama33    = "llama-3.3-70b-versatile"
	ModelGemma2     = "gemma2-9b-it"
)

// Settings are the per-agent knobs exposed through configuration.
type Settings struct {
	Model  string
	Policy retry.Policy
}

// DefaultSettings returns the settings used when configuration is silent.
func DefaultSettings() map[Kind]Settings {
	structured := func(attempts, allowance int) retry.Policy {
		return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Second, OutputAllowance: allowance}
	}
	return map[Kind]Settings{
		KindTitle:        {Model: ModelDeepSeekR1, Policy: structured(3, 50)},
		KindCharacters:   {Model: ModelDeepSeekR1, Policy: structured(3, 2000)},
		KindPlot:         {Model: ModelDeepSeekR1, Policy: structured(3, 2500)},
		KindStructure:    {Model: ModelDeepSeekR1, Policy: structured(5, 2500)},
		KindArcs:         {Model: ModelDeepSeekR1, Policy: structured(3, 2000)},
		KindSection:      {Model: ModelLlama33, Policy: structured(5, 2500)},
		KindNovelSection: {Model: ModelLlama33, Policy: structured(5, 2500)},
	}
}

// Writer runs the generation agents. A Writer is safe for concurrent use;
// WithNotify returns a copy bound to one consumer.
type Writer struct {
	caller   *retry.Caller
	settings map[Kind]Settings
	notify   func(agent Kind, msg string)
}

// New creates a Writer. Kinds missing from settings use DefaultSettings.
func New(caller *retry.Caller, settings map[Kind]Settings) *Writer {
	merged := DefaultSettings()
	for k, s := range settings {
		d := merged[k]
		if s.Model != "" {
			d.Model = s.Model
		}
		if s.Policy.MaxAttempts > 0 {
			d.Policy.MaxAttempts = s.Policy.MaxAttempts
		}
		if s.Policy.BaseDelay > 0 {
			d.Policy.BaseDelay = s.Policy.BaseDelay
		}
		if s.Policy.OutputAllowance > 0 {
			d.Policy.OutputAllowance = s.Policy.OutputAllowance
		}
		merged[k] = d
	}
	return &Writer{caller: caller, settings: merged}
}

// WithNotify returns a copy of w that reports waiting and fallback notices
// from structured agents to fn.
func (w *Writer) WithNotify(fn func(agent Kind, msg string)) *Writer {
	cp := *w
	cp.notify = fn
	return &cp
}

// Settings returns the effective settings of an agent.
func (w *Writer) Settings(k Kind) Settings {
	return w.settings[k]
}

// Summary describes the effective settings, one agent per line.
func (w *Writer) Summary() []string {
	kinds := make([]string, 0, len(w.settings))
	for k := range w.settings {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		s := w.settings[Kind(k)]
		out = append(out, fmt.Sprintf("%s: model=%s attempts=%d allowance=%d",
			k, s.Model, s.Policy.MaxAttempts, s.Policy.OutputAllowance))
	}
	return out
}

func (w *Writer) notifier(k Kind) func(string) {
	if w.notify == nil {
		return nil
	}
	return func(msg string) { w.notify(k, msg) }
}

// request assembles a chat request for an agent.
func (w *Writer) request(k Kind, system, user string, temperature float64, maxTokens int, jsonMode bool) llm.ChatRequest {
	model := w.settings[k].Model
	return llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			llm.SystemMessage(system),
			llm.UserMessage(user),
		},
		Temperature:     llm.Float(temperature),
		TopP:            llm.Float(1),
		MaxTokens:       maxTokens,
		JSONMode:        jsonMode,
		ReasoningHidden: llm.HidesReasoning(model),
	}
}

func spec[T any](w *Writer, k Kind, req llm.ChatRequest, parse func(string) (T, error)) retry.Spec[T] {
	return retry.Spec[T]{
		Name:    string(k),
		Request: req,
		Policy:  w.settings[k].Policy,
		Parse:   parse,
		Notify:  w.notifier(k),
	}
}
