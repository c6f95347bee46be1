package agents

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/retry"
)

// ErrEmptyTitle is returned when the model produced no usable title.
var ErrEmptyTitle = errors.New("empty title")

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Title generates a book title for prompt.
func (w *Writer) Title(ctx context.Context, prompt string) (llm.Statistics, string, error) {
	user := fmt.Sprintf("Create a captivating title for a novel with this concept: %s\n\nReturn only the title, nothing else.", prompt)
	req := w.request(KindTitle, titleSystem, user, 0.8, 50, false)
	return retry.Call(ctx, w.caller, spec(w, KindTitle, req, ParseTitle))
}

// ParseTitle extracts the title from a completion: reasoning blocks are
// removed, the first non-empty line is kept and surrounding quotes are
// stripped.
func ParseTitle(content string) (string, error) {
	content = thinkBlock.ReplaceAllString(content, "")
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "Title:")
		line = strings.Trim(strings.TrimSpace(line), `"'*`)
		if line != "" {
			return line, nil
		}
	}
	return "", ErrEmptyTitle
}
