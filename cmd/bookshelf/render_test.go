package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	bkerrors "github.com/vinayprograms/bookshelf/errors"
	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/novel"
	"github.com/vinayprograms/bookshelf/pipeline"
)

func TestRenderer_Prose(t *testing.T) {
	var out, errOut bytes.Buffer
	r := newRenderer(&out, &errOut, false, false)

	events := []pipeline.Event{
		{Stage: pipeline.StageTitle, Event: llm.TextEvent("The Folding City")},
		{Stage: pipeline.StageCharacters, Event: llm.NoticeEvent("characters: waiting 2s for capacity")},
		{Stage: pipeline.StageSection, Section: "Act I > Opening", Event: llm.TextEvent("Ada wakes.")},
		{Stage: pipeline.StageSection, Section: "Act I > Opening", Event: llm.TextEvent(" The map moved.")},
		{Stage: pipeline.StageSection, Section: "Act I > Turn", Event: llm.TextEvent("Bram runs.")},
		{Stage: pipeline.StageSection, Section: "Act I > Turn", Event: llm.StatsEvent(llm.Statistics{InputTokens: 3})},
	}
	for _, ev := range events {
		if err := r.Event(ev); err != nil {
			t.Fatalf("Event: %v", err)
		}
	}

	want := "# The Folding City\n\n\n## Act I\n\n\n\n### Opening\n\nAda wakes. The map moved.\n\n### Turn\n\nBram runs."
	if out.String() != want {
		t.Errorf("prose =\n%q\nwant\n%q", out.String(), want)
	}
	if !strings.Contains(errOut.String(), "[characters] characters: waiting 2s for capacity") {
		t.Errorf("notices = %q", errOut.String())
	}
	if strings.Contains(errOut.String(), "input=3") {
		t.Error("stats should only print when verbose")
	}
}

func TestRenderer_JSONLines(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, &bytes.Buffer{}, true, false)

	if err := r.Event(pipeline.Event{RunID: "run-1", Stage: pipeline.StageSection, Section: "One", Event: llm.TextEvent("x")}); err != nil {
		t.Fatal(err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &line); err != nil {
		t.Fatalf("invalid JSON line %q: %v", out.String(), err)
	}
	if line["run_id"] != "run-1" || line["kind"] != "text" || line["section"] != "One" || line["text"] != "x" {
		t.Errorf("line = %v", line)
	}
}

func TestRenderer_FinishError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode bkerrors.ErrorCode
	}{
		{"classified", bkerrors.RateLimited("provider kept rejecting"), bkerrors.ErrCodeRateLimit},
		{"plain", errors.New("disk on fire"), bkerrors.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			r := newRenderer(&out, &bytes.Buffer{}, true, false)

			err := r.Finish(nil, tt.err)
			if !reported(err) || !errors.Is(err, tt.err) {
				t.Fatalf("Finish = %v, want reported %v", err, tt.err)
			}
			var f struct {
				Error struct {
					Code bkerrors.ErrorCode `json:"code"`
				} `json:"error"`
				Result json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal(out.Bytes(), &f); err != nil {
				t.Fatalf("invalid JSON %q: %v", out.String(), err)
			}
			if f.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", f.Error.Code, tt.wantCode)
			}
			if f.Result != nil {
				t.Errorf("unexpected result %s", f.Result)
			}
		})
	}
}

func TestRenderer_FinishResult(t *testing.T) {
	structure, err := novel.ParseStructure([]byte(`{"One":"first","Two":"second"}`))
	if err != nil {
		t.Fatal(err)
	}
	book := novel.NewBook("T", structure)
	_ = book.Append("One", "three words here")

	var out, errOut bytes.Buffer
	r := newRenderer(&out, &errOut, false, false)
	result := &pipeline.Result{RunID: "r", Title: "T", Book: book, Statistics: llm.Statistics{InputTokens: 7, Model: "m"}}
	if err := r.Finish(result, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !strings.Contains(errOut.String(), "1 sections, 3 words") {
		t.Errorf("summary = %q", errOut.String())
	}
	if !strings.Contains(errOut.String(), "input=7") {
		t.Errorf("statistics missing: %q", errOut.String())
	}
}

func TestRequestFromFlags(t *testing.T) {
	saved := generateFlags
	defer func() { generateFlags = saved }()

	generateFlags.concept = "A cartographer maps a shifting city"
	generateFlags.genre = "Mystery"
	generateFlags.characters = 3
	generateFlags.twist = true
	generateFlags.arc = "icarus"
	generateFlags.detailed = true
	generateFlags.arcs = true

	req := requestFromFlags()
	if req.Genre != "Mystery" || req.Characters != 3 || !req.Twist || !req.Detailed || !req.TrackArcs {
		t.Errorf("request = %+v", req)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	for _, arc := range arcNames() {
		if _, ok := pipeline.NarrativeArcs[arc]; !ok {
			t.Errorf("flag help lists unknown arc %q", arc)
		}
	}
}
