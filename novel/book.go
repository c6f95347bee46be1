package novel

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownSection is returned when appending to a key not in the structure.
var ErrUnknownSection = errors.New("unknown section")

// Book accumulates prose per section in structure order. It is safe for
// concurrent use.
type Book struct {
	mu        sync.RWMutex
	title     string
	structure *Structure
	contents  map[string]*strings.Builder
}

// SectionContent is a snapshot of one section.
type SectionContent struct {
	Key     string
	Title   string
	Depth   int
	Leaf    bool
	Content string
}

// NewBook creates an empty book over structure.
func NewBook(title string, structure *Structure) *Book {
	b := &Book{
		title:     title,
		structure: structure,
		contents:  make(map[string]*strings.Builder),
	}
	_ = structure.Walk(func(n *Node, _ int) error {
		b.contents[n.Key()] = &strings.Builder{}
		return nil
	})
	return b
}

// Title returns the book title.
func (b *Book) Title() string { return b.title }

// Structure returns the book's section tree.
func (b *Book) Structure() *Structure { return b.structure }

// Append adds text to the section with the given key.
func (b *Book) Append(key, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.contents[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSection, key)
	}
	sb.WriteString(text)
	return nil
}

// Content returns the accumulated text of a section.
func (b *Book) Content(key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sb, ok := b.contents[key]; ok {
		return sb.String()
	}
	return ""
}

// Sections returns every section in structure order.
func (b *Book) Sections() []SectionContent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []SectionContent
	_ = b.structure.Walk(func(n *Node, depth int) error {
		out = append(out, SectionContent{
			Key:     n.Key(),
			Title:   n.Title,
			Depth:   depth,
			Leaf:    n.IsLeaf(),
			Content: b.contents[n.Key()].String(),
		})
		return nil
	})
	return out
}

// Completed returns sections that have content, in structure order.
func (b *Book) Completed() []SectionContent {
	var out []SectionContent
	for _, s := range b.Sections() {
		if strings.TrimSpace(s.Content) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Summary renders completed sections as "Title: excerpt" lines, each
// excerpt cut to the last maxChars characters of the section.
func (b *Book) Summary(maxChars int) string {
	var sb strings.Builder
	for _, s := range b.Completed() {
		sb.WriteString(s.Title)
		sb.WriteString(": ")
		sb.WriteString(Tail(s.Content, maxChars))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// WordCount counts words across all sections.
func (b *Book) WordCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sb := range b.contents {
		n += len(strings.Fields(sb.String()))
	}
	return n
}

// Tail returns at most the last max runes of s, trimmed.
func Tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return "..." + strings.TrimSpace(string(r[len(r)-max:]))
}
