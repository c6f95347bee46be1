package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	bkerrors "github.com/vinayprograms/bookshelf/errors"
)

// Limits on a Request.
const (
	MinConceptLength  = 10
	MinCharacters     = 1
	MaxCharacters     = 20
	DefaultCharacters = 4
)

// Request describes the novel to generate.
type Request struct {
	Concept        string
	Genre          string
	NarrativeStyle string
	Tone           string
	Characters     int
	Romance        bool
	Twist          bool
	Complexity     string
	Pacing         string
	Themes         string
	Instructions   string
	CharacterSeeds string
	Language       string
	NarrativeArc   string // key of NarrativeArcs

	// Detailed selects the multi-level novel structure and the section
	// writer that sees summaries of earlier sections.
	Detailed bool

	// TrackArcs updates character state after every top-level section.
	TrackArcs bool
}

func (r Request) withDefaults() Request {
	if r.Genre == "" {
		r.Genre = Genres[0]
	}
	if r.NarrativeStyle == "" {
		r.NarrativeStyle = NarrativeStyles[0]
	}
	if r.Tone == "" {
		r.Tone = Tones[0]
	}
	if r.Characters == 0 {
		r.Characters = DefaultCharacters
	}
	if r.Complexity == "" {
		r.Complexity = Complexities[0]
	}
	if r.Pacing == "" {
		r.Pacing = Pacings[0]
	}
	if r.NarrativeArc == "" {
		r.NarrativeArc = ArcAuto
	}
	return r
}

// Validate checks the request. Errors carry ErrCodeInvalidInput.
func (r Request) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(r.Concept)) < MinConceptLength {
		return bkerrors.InvalidInput(
			fmt.Sprintf("Novel concept must be at least %d characters long", MinConceptLength),
			bkerrors.WithMetadata("field", "concept"))
	}
	if r.Characters < MinCharacters || r.Characters > MaxCharacters {
		return bkerrors.InvalidInput(
			fmt.Sprintf("number of characters must be between %d and %d, got %d", MinCharacters, MaxCharacters, r.Characters),
			bkerrors.WithMetadata("field", "characters"))
	}
	if _, ok := NarrativeArcs[r.NarrativeArc]; !ok {
		return bkerrors.InvalidInput(
			fmt.Sprintf("unknown narrative arc %q", r.NarrativeArc),
			bkerrors.WithMetadata("field", "narrative_arc"))
	}
	return nil
}

// PlotParameters renders the story parameters block appended to the
// instructions of every agent.
func (r Request) PlotParameters() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Genre: %s\n", r.Genre)
	fmt.Fprintf(&sb, "Narrative Style: %s\n", r.NarrativeStyle)
	fmt.Fprintf(&sb, "Tone: %s\n", r.Tone)
	fmt.Fprintf(&sb, "Plot Complexity: %s\n", r.Complexity)
	fmt.Fprintf(&sb, "Pacing: %s\n", r.Pacing)
	fmt.Fprintf(&sb, "Include Romance Subplot: %s\n", yesNo(r.Romance))
	fmt.Fprintf(&sb, "Include Plot Twist: %s\n", yesNo(r.Twist))
	if r.NarrativeArc != "" && r.NarrativeArc != ArcAuto {
		fmt.Fprintf(&sb, "Narrative Arc: %s\n", NarrativeArcs[r.NarrativeArc])
	}
	if r.Language != "" {
		fmt.Fprintf(&sb, "Output Language: %s\n", r.Language)
	}
	return sb.String()
}

// CombinedInstructions joins the free-form instructions with the
// parameters block.
func (r Request) CombinedInstructions() string {
	return r.Instructions + "\n" + r.PlotParameters()
}

// TitlePrompt is the prompt given to the title agent.
func (r Request) TitlePrompt() string {
	return fmt.Sprintf("%s\nGenre: %s\nTone: %s", r.Concept, r.Genre, r.Tone)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
