package pipeline

// Choices offered by the generate form. Any non-empty string is accepted;
// these lists exist for help text and shell completion.
var (
	Genres          = []string{"Fantasy", "Science Fiction", "Mystery", "Romance", "Thriller", "Historical Fiction", "Horror", "Adventure"}
	NarrativeStyles = []string{"First Person", "Third Person Limited", "Third Person Omniscient", "Multiple Perspectives"}
	Tones           = []string{"Dark", "Humorous", "Inspirational", "Suspenseful", "Melancholic", "Whimsical", "Serious", "Romantic"}
	Languages       = []string{"English", "Hungarian", "Spanish", "French", "German", "Italian", "Portuguese", "Japanese", "Chinese", "Russian", "Arabic"}
	Complexities    = []string{"Simple", "Moderate", "Complex", "Intricate"}
	Pacings         = []string{"Slow-burn", "Moderate", "Fast-paced", "Dynamic"}
)

// ArcAuto lets the model pick an emotional arc from the genre.
const ArcAuto = "auto"

// NarrativeArcs maps arc identifiers to their descriptions.
var NarrativeArcs = map[string]string{
	ArcAuto:          "Auto (Based on genre)",
	"rags_to_riches": "Rags to Riches (Rise)",
	"riches_to_rags": "Riches to Rags (Fall)",
	"man_in_hole":    "Man in a Hole (Fall then Rise)",
	"icarus":         "Icarus / Freytag's Pyramid (Rise then Fall)",
	"cinderella":     "Cinderella (Rise then Fall then Rise)",
	"oedipus":        "Oedipus (Fall then Rise then Fall)",
}
