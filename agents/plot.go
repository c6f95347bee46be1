package agents

import (
	"context"

	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/novel"
	"github.com/vinayprograms/bookshelf/retry"
)

// PlotInput describes the story to outline.
type PlotInput struct {
	Concept        string
	Characters     novel.Cast
	Genre          string
	NarrativeStyle string
	Instructions   string
}

// Plot generates a chapter and scene outline.
func (w *Writer) Plot(ctx context.Context, in PlotInput) (llm.Statistics, *novel.Structure, error) {
	user := lines(
		"Create a detailed plot structure for a novel with the following, and return the result in JSON format:",
		"",
		tag("concept", in.Concept),
		tag("genre", in.Genre),
		tag("narrative_style", in.NarrativeStyle),
		tag("characters", in.Characters.PromptJSON()),
		tag("additional_instructions", in.Instructions),
		"",
		"Create a structure with exposition, rising action, complications, climax, and resolution.",
		"For each plot point, explain what happens and which characters are involved.",
	)
	req := w.request(KindPlot, plotSystem, user, 0.6, 8000, true)
	return retry.Call(ctx, w.caller, spec(w, KindPlot, req, parseStructure))
}

// StructureInput describes a detailed novel outline.
type StructureInput struct {
	Concept        string
	Genre          string
	NarrativeStyle string
	Characters     novel.Cast
	Themes         string
	Complexity     string
	Twist          bool
	Instructions   string
}

// NovelStructure generates a dramaturgically staged outline.
func (w *Writer) NovelStructure(ctx context.Context, in StructureInput) (llm.Statistics, *novel.Structure, error) {
	twist := ""
	if in.Twist {
		twist = "Include a surprising plot twist"
	}
	user := lines(
		"Create a detailed novel structure with the following parameters, returning a structured JSON format:",
		"",
		tag("concept", in.Concept),
		tag("genre", in.Genre),
		tag("narrative_style", in.NarrativeStyle),
		tag("characters", in.Characters.PromptJSON()),
		tag("themes", in.Themes),
		tag("complexity", in.Complexity),
		twist,
		tag("additional_instructions", in.Instructions),
		"",
		"For each chapter/scene:",
		"1. Mention which characters appear",
		"2. Describe the emotional tone and purpose",
		"3. Show how this advances the plot or develops characters",
		"4. Maintain consistent character motivations",
		"",
		"Follow the dramatic arc stages of exposition, inciting incident, rising action, midpoint, complications, climax and resolution.",
	)
	req := w.request(KindStructure, structureSystem, user, 0.7, 8000, true)
	return retry.Call(ctx, w.caller, spec(w, KindStructure, req, parseStructure))
}

func parseStructure(content string) (*novel.Structure, error) {
	return novel.ParseStructure([]byte(content))
}
