package novel

import (
	"errors"
	"sync"
	"testing"
)

func testBook(t *testing.T) *Book {
	t.Helper()
	s, err := ParseStructure([]byte(`{"Chapter 1": {"Scene 1": "a", "Scene 2": "b"}, "Chapter 2": "c"}`))
	if err != nil {
		t.Fatalf("ParseStructure: %v", err)
	}
	return NewBook("The Long Night", s)
}

func TestBook_AppendAndContent(t *testing.T) {
	b := testBook(t)
	if err := b.Append("Chapter 1 > Scene 1", "It was "); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append("Chapter 1 > Scene 1", "dark."); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := b.Content("Chapter 1 > Scene 1"); got != "It was dark." {
		t.Errorf("Content = %q", got)
	}
	if err := b.Append("Chapter 9", "x"); !errors.Is(err, ErrUnknownSection) {
		t.Errorf("Append unknown err = %v", err)
	}
	if b.Title() != "The Long Night" {
		t.Errorf("Title = %q", b.Title())
	}
}

func TestBook_SectionsOrderAndCompleted(t *testing.T) {
	b := testBook(t)
	_ = b.Append("Chapter 2", "ending words")
	_ = b.Append("Chapter 1 > Scene 1", "opening words")

	sections := b.Sections()
	wantKeys := []string{"Chapter 1", "Chapter 1 > Scene 1", "Chapter 1 > Scene 2", "Chapter 2"}
	if len(sections) != len(wantKeys) {
		t.Fatalf("sections = %d, want %d", len(sections), len(wantKeys))
	}
	for i, k := range wantKeys {
		if sections[i].Key != k {
			t.Errorf("sections[%d] = %q, want %q", i, sections[i].Key, k)
		}
	}
	if sections[1].Depth != 1 || !sections[1].Leaf || sections[0].Leaf {
		t.Errorf("unexpected depth/leaf: %+v", sections[:2])
	}

	completed := b.Completed()
	if len(completed) != 2 || completed[0].Title != "Scene 1" || completed[1].Title != "Chapter 2" {
		t.Errorf("Completed = %+v", completed)
	}
	if got := b.Summary(5); got != "Scene 1: ...words\nChapter 2: ...words" {
		t.Errorf("Summary = %q", got)
	}
	if got := b.WordCount(); got != 4 {
		t.Errorf("WordCount = %d, want 4", got)
	}
}

func TestBook_ConcurrentAppend(t *testing.T) {
	b := testBook(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Append("Chapter 2", "x")
		}()
	}
	wg.Wait()
	if got := len(b.Content("Chapter 2")); got != 50 {
		t.Errorf("content length = %d, want 50", got)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{in: "short", max: 10, want: "short"},
		{in: "  padded  ", max: 0, want: "padded"},
		{in: "hello world", max: 5, want: "...world"},
	}
	for _, tt := range tests {
		if got := Tail(tt.in, tt.max); got != tt.want {
			t.Errorf("Tail(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
