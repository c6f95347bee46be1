package agents

import (
	"context"
	"fmt"

	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/novel"
	"github.com/vinayprograms/bookshelf/retry"
)

// CharactersInput describes the cast to create.
type CharactersInput struct {
	Concept      string
	Instructions string
	Count        int
}

// Characters generates Count character profiles. When the model never
// returns valid JSON, Count placeholder characters are returned whose
// UpdateStatus records the failure.
func (w *Writer) Characters(ctx context.Context, in CharactersInput) (llm.Statistics, novel.Cast, error) {
	user := lines(
		fmt.Sprintf("Create %d detailed and complex character profiles in JSON format for a novel with the following concept:", in.Count),
		"",
		tag("concept", in.Concept),
		"",
		tag("additional_instructions", in.Instructions),
		"",
		`Return {"characters": [...]} with one object per character.`,
	)
	req := w.request(KindCharacters, charactersSystem, user, 0.7, 4000, true)

	s := spec(w, KindCharacters, req, func(content string) (novel.Cast, error) {
		return novel.ParseCharacters([]byte(content))
	})
	s.Fallback = func(err error) novel.Cast {
		return novel.PlaceholderCast(in.Count, "generation failed: "+err.Error())
	}
	return retry.Call(ctx, w.caller, s)
}
