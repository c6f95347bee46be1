package agents

import (
	"context"

	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/novel"
	"github.com/vinayprograms/bookshelf/retry"
)

// ArcsInput is the story state used to advance character arcs.
type ArcsInput struct {
	Characters        novel.Cast
	RecentDevelopment string
	CompletedSummary  string
}

// StatusNotUpdated marks characters returned unchanged by the arc fallback.
const StatusNotUpdated = "not updated"

// CharacterArcs updates each character's state after a plot development.
// Updated profiles are merged onto the input by name. When the model never
// returns valid JSON the input is returned with UpdateStatus set.
func (w *Writer) CharacterArcs(ctx context.Context, in ArcsInput) (llm.Statistics, novel.Cast, error) {
	user := lines(
		"Update the character profiles based on the most recent developments in the story.",
		"Return updated character information in JSON format.",
		"",
		block("original_character_profiles", in.Characters.PromptJSON()),
		"",
		block("character_goals", in.Characters.Goals()),
		"",
		block("recent_plot_development", in.RecentDevelopment),
		"",
		block("completed_sections_summary", in.CompletedSummary),
		"",
		"For each character, update their:",
		"- Current emotional state and mindset",
		"- Relationships with other characters (any changes)",
		"- Progress toward their goals",
		"- Knowledge or secrets they now possess",
		"- Character growth or regression",
		"",
		"Ensure the updates are consistent with their established personality traits.",
	)
	req := w.request(KindArcs, arcsSystem, user, 0.4, 4000, true)

	s := spec(w, KindArcs, req, func(content string) (novel.Cast, error) {
		updates, err := novel.ParseCharacters([]byte(content))
		if err != nil {
			return nil, err
		}
		return in.Characters.Merge(updates), nil
	})
	s.Fallback = func(err error) novel.Cast {
		return in.Characters.Annotated(StatusNotUpdated + ": " + err.Error())
	}
	return retry.Call(ctx, w.caller, s)
}
