package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestIndex(t *testing.T) *SectionIndex {
	t.Helper()
	idx, err := NewSectionIndex(Config{})
	if err != nil {
		t.Fatalf("NewSectionIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSectionIndex_RememberRecall(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	sections := []struct{ key, title, content string }{
		{"Chapter 1", "The Lighthouse", "Ada climbed the lighthouse stairs while the storm gathered."},
		{"Chapter 2", "The Market", "Bram haggled over spices and copper pots in the crowded market."},
		{"Chapter 3", "Return", "The storm broke over the lighthouse as Ada lit the lamp."},
	}
	for _, s := range sections {
		if _, err := idx.Remember(ctx, s.key, s.title, s.content); err != nil {
			t.Fatalf("Remember: %v", err)
		}
	}
	if n, _ := idx.Count(); n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}

	hits, err := idx.Recall(ctx, "storm at the lighthouse", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2: %+v", len(hits), hits)
	}
	if hits[0].Key != "Chapter 1" || hits[1].Key != "Chapter 3" {
		t.Errorf("hits out of story order: %s, %s", hits[0].Key, hits[1].Key)
	}
	if hits[0].Title != "The Lighthouse" || hits[0].Content == "" || hits[0].Score <= 0 {
		t.Errorf("hit fields missing: %+v", hits[0])
	}
}

func TestSectionIndex_RecallWithoutTermsReturnsLatest(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	for i, title := range []string{"One", "Two", "Three"} {
		if _, err := idx.Remember(ctx, title, title, strings.Repeat("word ", i+1)); err != nil {
			t.Fatalf("Remember: %v", err)
		}
	}

	hits, err := idx.Recall(ctx, "Chapter 2", 2)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) != 2 || hits[0].Title != "Two" || hits[1].Title != "Three" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestSectionIndex_SkipsEmpty(t *testing.T) {
	idx := newTestIndex(t)
	id, err := idx.Remember(context.Background(), "k", "t", "   ")
	if err != nil || id != "" {
		t.Errorf("Remember empty = %q, %v", id, err)
	}
	if n, _ := idx.Count(); n != 0 {
		t.Errorf("Count = %d", n)
	}
}

func TestSectionIndex_Summary(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_, _ = idx.Remember(ctx, "Chapter 1", "Harbor", "The harbor froze overnight and nobody sailed.")

	got, err := idx.Summary(ctx, "frozen harbor", 3, 14)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if got != "Harbor: ...nobody sailed." {
		t.Errorf("Summary = %q", got)
	}
}

func TestSectionIndex_Canceled(t *testing.T) {
	idx := newTestIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.Remember(ctx, "k", "t", "text"); err == nil {
		t.Error("expected error from canceled context")
	}
	if _, err := idx.Recall(ctx, "text", 1); err == nil {
		t.Error("expected error from canceled context")
	}
}

func TestSectionIndex_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sections.bleve")
	ctx := context.Background()

	idx, err := NewSectionIndex(Config{Path: path})
	if err != nil {
		t.Fatalf("NewSectionIndex: %v", err)
	}
	if _, err := idx.Remember(ctx, "Chapter 1", "Harbor", "frozen harbor"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSectionIndex(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.Count(); n != 1 {
		t.Errorf("Count after reopen = %d, want 1", n)
	}
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Chapter 1: The Storm > Scene 2", want: "storm"},
		{in: "Ada and the Lighthouse, the lighthouse!", want: "ada,lighthouse"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := strings.Join(keywords(tt.in), ","); got != tt.want {
			t.Errorf("keywords(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
