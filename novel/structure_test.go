package novel

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseStructure_PreservesOrder(t *testing.T) {
	input := `{
		"Chapter 3: End": "the end",
		"Chapter 1: Start": {
			"Scene 2: Storm": "rain",
			"Scene 1: Calm": "sun"
		},
		"Chapter 2: Middle": "middle"
	}`
	s, err := ParseStructure([]byte(input))
	if err != nil {
		t.Fatalf("ParseStructure: %v", err)
	}
	want := []string{"Chapter 3: End", "Chapter 1: Start", "Scene 2: Storm", "Scene 1: Calm", "Chapter 2: Middle"}
	if got := s.Titles(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Titles = %v, want %v", got, want)
	}
	leaves := s.Leaves()
	if len(leaves) != 4 {
		t.Fatalf("leaves = %d, want 4", len(leaves))
	}
	if leaves[1].Key() != "Chapter 1: Start > Scene 2: Storm" {
		t.Errorf("key = %q", leaves[1].Key())
	}
	if leaves[1].Description != "rain" {
		t.Errorf("description = %q", leaves[1].Description)
	}
}

func TestParseStructure_Quarantine(t *testing.T) {
	input := `{
		"Chapter 1": {
			"description": "opening",
			"characters_involved": ["Ada"],
			"emotional_tone": "tense",
			"Scene 1": "arrival",
			"Scene 2": 42
		},
		"Chapter 2": {"narrative_advancement": "x"},
		"Chapter 3": {"summary": "only a summary"},
		"Chapter 4": [1, 2],
		"Chapter 5": null
	}`
	s, err := ParseStructure([]byte(input))
	if err != nil {
		t.Fatalf("ParseStructure: %v", err)
	}

	want := []string{"Chapter 1", "Scene 1", "Chapter 3"}
	if got := s.Titles(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Titles = %v, want %v", got, want)
	}

	ch1, ok := s.Find("Chapter 1")
	if !ok {
		t.Fatal("Chapter 1 missing")
	}
	if ch1.Description != "opening" {
		t.Errorf("Chapter 1 description = %q", ch1.Description)
	}
	ch3, _ := s.Find("Chapter 3")
	if !ch3.IsLeaf() || ch3.Description != "only a summary" {
		t.Errorf("Chapter 3 should collapse to a leaf, got %+v", ch3)
	}

	for _, path := range []string{
		"Chapter 1 > characters_involved",
		"Chapter 1 > emotional_tone",
		"Chapter 1 > Scene 2",
		"Chapter 2",
		"Chapter 4",
		"Chapter 5",
	} {
		if _, ok := s.Quarantined[path]; !ok {
			t.Errorf("expected %q quarantined; have %v", path, keys(s.Quarantined))
		}
	}
}

func TestParseStructure_Wrapper(t *testing.T) {
	s, err := ParseStructure([]byte(`{"plot_structure": {"Chapter 1": "a", "Chapter 2": "b"}}`))
	if err != nil {
		t.Fatalf("ParseStructure: %v", err)
	}
	if got := s.Titles(); strings.Join(got, "|") != "Chapter 1|Chapter 2" {
		t.Errorf("Titles = %v", got)
	}
	if s.Sections[0].Key() != "Chapter 1" {
		t.Errorf("wrapper leaked into key: %q", s.Sections[0].Key())
	}
}

func TestParseStructure_DuplicateTitles(t *testing.T) {
	s, err := ParseStructure([]byte(`{"Interlude": "a", "Interlude": "b"}`))
	if err != nil {
		t.Fatalf("ParseStructure: %v", err)
	}
	if got := s.Titles(); strings.Join(got, "|") != "Interlude|Interlude (2)" {
		t.Errorf("Titles = %v", got)
	}
}

func TestParseStructure_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "empty", input: "", want: ErrNotObject},
		{name: "array", input: `["Chapter 1"]`, want: ErrNotObject},
		{name: "empty object", input: `{}`, want: ErrEmptyStructure},
		{name: "only metadata", input: `{"narrative_arc": "rise", "themes": ["loss"]}`, want: ErrEmptyStructure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStructure([]byte(tt.input))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := ParseStructure([]byte(`{"Chapter 1": `)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestStructure_Outline(t *testing.T) {
	s, err := ParseStructure([]byte(`{"Part I": {"Chapter 1": "arrival"}}`))
	if err != nil {
		t.Fatalf("ParseStructure: %v", err)
	}
	want := "- Part I\n  - Chapter 1: arrival"
	if got := s.Outline(); got != want {
		t.Errorf("Outline = %q, want %q", got, want)
	}
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
