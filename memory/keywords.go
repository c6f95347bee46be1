package memory

import "strings"

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "i": true, "we": true,
	"you": true, "he": true, "she": true, "they": true, "them": true,
	"chapter": true, "scene": true, "part": true, "section": true,
}

// keywords extracts distinct lowercase terms of three or more letters,
// dropping stop words and structural words like "chapter".
func keywords(text string) []string {
	text = strings.ToLower(text)
	text = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ':', ';', '(', ')', '[', ']', '{', '}', '"', '\'', '-', '_', '/', '\\', '>':
			return ' '
		}
		return r
	}, text)

	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(text) {
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		if strings.Trim(w, "0123456789") == "" {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
