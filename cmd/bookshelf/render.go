package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	bkerrors "github.com/vinayprograms/bookshelf/errors"
	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/novel"
	"github.com/vinayprograms/bookshelf/pipeline"
)

// reportedError marks an error the renderer already printed.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) bool {
	var re *reportedError
	return errors.As(err, &re)
}

// renderer writes pipeline events either as prose or as JSON lines.
type renderer struct {
	out      io.Writer
	errOut   io.Writer
	enc      *json.Encoder // nil in prose mode
	verbose  bool
	headings map[string]bool
}

func newRenderer(out, errOut io.Writer, jsonMode, verbose bool) *renderer {
	r := &renderer{out: out, errOut: errOut, verbose: verbose, headings: make(map[string]bool)}
	if jsonMode {
		r.enc = json.NewEncoder(out)
	}
	return r
}

// Event renders one pipeline event.
func (r *renderer) Event(ev pipeline.Event) error {
	if r.enc != nil {
		return r.enc.Encode(ev)
	}
	switch ev.Kind {
	case llm.EventNotice:
		fmt.Fprintf(r.errOut, "[%s] %s\n", ev.Stage, ev.Notice)
	case llm.EventStats:
		if r.verbose {
			label := string(ev.Stage)
			if ev.Section != "" {
				label += " " + ev.Section
			}
			fmt.Fprintf(r.errOut, "[%s] %s\n", label, ev.Stats)
		}
	case llm.EventText:
		switch ev.Stage {
		case pipeline.StageTitle:
			_, err := fmt.Fprintf(r.out, "# %s\n", ev.Text)
			return err
		case pipeline.StageSection:
			r.heading(ev.Section)
			_, err := io.WriteString(r.out, ev.Text)
			return err
		}
	}
	return nil
}

// heading prints the headings of key and any unprinted ancestors.
func (r *renderer) heading(key string) {
	parts := strings.Split(key, novel.PathSeparator)
	for i := range parts {
		k := strings.Join(parts[:i+1], novel.PathSeparator)
		if r.headings[k] {
			continue
		}
		r.headings[k] = true
		fmt.Fprintf(r.out, "\n\n%s %s\n\n", strings.Repeat("#", i+2), parts[i])
	}
}

// summary is the final JSON line.
type summary struct {
	RunID      string                            `json:"run_id"`
	Title      string                            `json:"title"`
	Characters novel.Cast                        `json:"characters"`
	Sections   int                               `json:"sections"`
	Words      int                               `json:"words"`
	Statistics llm.Statistics                    `json:"statistics"`
	Stages     map[pipeline.Stage]llm.Statistics `json:"stages,omitempty"`
}

type final struct {
	Result *summary        `json:"result,omitempty"`
	Error  *bkerrors.Error `json:"error,omitempty"`
}

// Finish reports the result and err. It returns err marked as reported.
func (r *renderer) Finish(result *pipeline.Result, err error) error {
	var s *summary
	if result != nil {
		s = &summary{
			RunID:      result.RunID,
			Title:      result.Title,
			Characters: result.Characters,
			Statistics: result.Statistics,
			Stages:     result.Stages,
		}
		if result.Book != nil {
			s.Sections = len(result.Book.Completed())
			s.Words = result.Book.WordCount()
		}
	}

	var classified *bkerrors.Error
	if err != nil {
		if !errors.As(err, &classified) {
			classified = bkerrors.Wrap(err, "generation failed")
		}
	}

	if r.enc != nil {
		if encErr := r.enc.Encode(final{Result: s, Error: classified}); encErr != nil && err == nil {
			return encErr
		}
	} else {
		if s != nil {
			fmt.Fprintf(r.out, "\n")
			fmt.Fprintf(r.errOut, "\n%d sections, %d words\n%s\n", s.Sections, s.Words, s.Statistics)
		}
		if classified != nil {
			fmt.Fprintf(r.errOut, "Error [%s]: %v\n", classified.Code(), err)
		}
	}

	if err != nil {
		return &reportedError{err: err}
	}
	return nil
}
