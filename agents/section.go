package agents

import (
	"context"

	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/retry"
)

// SectionInput describes one section written from the plot outline.
type SectionInput struct {
	Title        string
	PlotContext  string
	Characters   string
	Tone         string
	Instructions string
}

// Section streams prose for one section to emit.
func (w *Writer) Section(ctx context.Context, in SectionInput, emit func(llm.Event) error) (llm.Statistics, error) {
	user := lines(
		"Generate engaging narrative content for the following section:",
		tag("section_title", in.Title),
		tag("plot_context", in.PlotContext),
		tag("characters", in.Characters),
		tag("tone", in.Tone),
		tag("additional_instructions", in.Instructions),
		"",
		"Write immersive, emotionally resonant content that advances the plot while developing characters. Balance dialogue, action, and description.",
	)
	req := w.request(KindSection, sectionSystem, user, 0.7, 8000, false)
	return w.stream(ctx, KindSection, req, emit)
}

// NovelSectionInput describes one section written from a detailed novel
// structure.
type NovelSectionInput struct {
	Title           string
	Description     string
	PlotContext     string
	Characters      string
	Genre           string
	Tone            string
	NarrativeStyle  string
	PreviousSummary string
	Instructions    string
}

// NovelSection streams prose for one section of a detailed novel to emit.
func (w *Writer) NovelSection(ctx context.Context, in NovelSectionInput, emit func(llm.Event) error) (llm.Statistics, error) {
	user := lines(
		"Write an engaging narrative section with the following parameters:",
		"",
		tag("section_title", in.Title),
		tag("section_description", in.Description),
		tag("plot_context", in.PlotContext),
		tag("characters", in.Characters),
		tag("genre", in.Genre),
		tag("tone", in.Tone),
		tag("narrative_style", in.NarrativeStyle),
		tag("previous_sections_summary", in.PreviousSummary),
		tag("additional_instructions", in.Instructions),
		"",
		"Create immersive content that advances the story while developing characters.",
		"Balance dialogue, action, and description.",
		"Maintain consistent characterization with previously established traits.",
	)
	req := w.request(KindNovelSection, novelSectionSystem, user, 0.8, 8000, false)
	return w.stream(ctx, KindNovelSection, req, emit)
}

func (w *Writer) stream(ctx context.Context, k Kind, req llm.ChatRequest, emit func(llm.Event) error) (llm.Statistics, error) {
	return w.caller.Stream(ctx, retry.StreamSpec{
		Name:    string(k),
		Request: req,
		Policy:  w.settings[k].Policy,
	}, emit)
}
