package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/bookshelf/agents"
	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/logging"
	"github.com/vinayprograms/bookshelf/memory"
	"github.com/vinayprograms/bookshelf/metrics"
	"github.com/vinayprograms/bookshelf/novel"
	"github.com/vinayprograms/bookshelf/telemetry"
)

// Stage names a pipeline step.
type Stage string

const (
	StageTitle      Stage = "title"
	StageCharacters Stage = "characters"
	StagePlot       Stage = "plot"
	StageStructure  Stage = "structure"
	StageSection    Stage = "section"
	StageArcs       Stage = "arcs"
)

func stageOf(k agents.Kind) Stage {
	switch k {
	case agents.KindSection, agents.KindNovelSection:
		return StageSection
	default:
		return Stage(k)
	}
}

// Event is one item delivered to the consumer. Section is the structure
// key of the section being written and is empty for other stages.
type Event struct {
	RunID   string `json:"run_id"`
	Stage   Stage  `json:"stage"`
	Section string `json:"section,omitempty"`
	llm.Event
}

// Result is everything a run produced.
type Result struct {
	RunID      string
	Title      string
	Characters novel.Cast
	Structure  *novel.Structure
	Book       *novel.Book

	// Statistics is the sum over every call of the run.
	Statistics llm.Statistics
	Stages     map[Stage]llm.Statistics
}

// Defaults for previous-section context.
const (
	DefaultRecallLimit  = 3
	DefaultExcerptChars = 600
)

// Generator runs generations. It is safe for concurrent use; runs share
// the writer's limiter.
type Generator struct {
	writer       *agents.Writer
	memory       *memory.SectionIndex
	logger       *logging.Logger
	tracer       *telemetry.Tracer
	idGen        func() string
	recallLimit  int
	excerptChars int
}

// Option configures a Generator.
type Option func(*Generator)

// WithMemory recalls earlier sections from index when writing detailed
// novels. Without it the most recent completed sections are used.
func WithMemory(index *memory.SectionIndex) Option {
	return func(g *Generator) {
		g.memory = index
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Generator) {
		g.logger = l
	}
}

// WithTracer records a span per run and per stage.
func WithTracer(t *telemetry.Tracer) Option {
	return func(g *Generator) {
		g.tracer = t
	}
}

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(g *Generator) {
		g.idGen = gen
	}
}

// WithRecall sets how many earlier sections feed a section prompt and how
// many trailing characters of each are kept.
func WithRecall(limit, excerptChars int) Option {
	return func(g *Generator) {
		if limit > 0 {
			g.recallLimit = limit
		}
		if excerptChars > 0 {
			g.excerptChars = excerptChars
		}
	}
}

// New creates a Generator.
func New(writer *agents.Writer, opts ...Option) *Generator {
	g := &Generator{
		writer:       writer,
		logger:       logging.Nop(),
		tracer:       telemetry.Noop(),
		idGen:        uuid.NewString,
		recallLimit:  DefaultRecallLimit,
		excerptChars: DefaultExcerptChars,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run generates a novel and delivers events to emit, which may be nil.
// Errors from emit stop the run and are returned unchanged. Once the
// structure exists, a failed run still returns the partial Result.
func (g *Generator) Run(ctx context.Context, req Request, emit func(Event) error) (*Result, error) {
	req = req.withDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if emit == nil {
		emit = func(Event) error { return nil }
	}

	id := g.idGen()
	r := &run{
		g:            g,
		req:          req,
		instructions: req.CombinedInstructions(),
		log:          g.logger.WithComponent("pipeline").WithTraceID(id),
		emitFn:       emit,
		result:       &Result{RunID: id, Stages: make(map[Stage]llm.Statistics)},
	}
	r.writer = g.writer.WithNotify(r.notice)

	r.log.Info("run_start", map[string]interface{}{
		"detailed":   req.Detailed,
		"characters": req.Characters,
		"track_arcs": req.TrackArcs,
	})

	ctx, span := g.tracer.StartRunSpan(ctx, id, req.Detailed)
	res, err := r.generate(ctx)
	opts := telemetry.RunSpanOptions{
		Title:     r.result.Title,
		TokensIn:  r.result.Statistics.InputTokens,
		TokensOut: r.result.Statistics.OutputTokens,
	}
	if r.result.Book != nil {
		opts.Sections = len(r.result.Book.Completed())
		opts.Words = r.result.Book.WordCount()
	}
	g.tracer.EndRunSpan(span, opts, err)
	return res, err
}

func (r *run) generate(ctx context.Context) (*Result, error) {
	start := time.Now()
	if err := r.foundation(ctx); err != nil {
		return nil, err
	}
	if err := r.outline(ctx); err != nil {
		return nil, err
	}
	r.result.Book = novel.NewBook(r.result.Title, r.result.Structure)
	if err := r.write(ctx, r.result.Structure.Sections, "", true); err != nil {
		return r.result, err
	}

	r.log.Info("run_complete", map[string]interface{}{
		"duration":      time.Since(start),
		"words":         r.result.Book.WordCount(),
		"input_tokens":  r.result.Statistics.InputTokens,
		"output_tokens": r.result.Statistics.OutputTokens,
	})
	return r.result, nil
}

// run is the state of one generation.
type run struct {
	g            *Generator
	writer       *agents.Writer
	req          Request
	instructions string
	log          *logging.Logger
	result       *Result

	mu        sync.Mutex // serializes emitFn
	emitFn    func(Event) error
	noticeErr error // first failed notice emit, guarded by mu
}

func (r *run) emit(ev Event) error {
	ev.RunID = r.result.RunID
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitFn(ev)
}

// notice forwards an agent notice. The first emit error is kept and ends
// the run once the current stage returns; later notices are dropped.
func (r *run) notice(k agents.Kind, msg string) {
	ev := Event{RunID: r.result.RunID, Stage: stageOf(k), Event: llm.NoticeEvent(msg)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.noticeErr != nil {
		return
	}
	r.noticeErr = r.emitFn(ev)
}

func (r *run) failedNotice() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.noticeErr
}

func (r *run) add(stage Stage, s llm.Statistics) {
	r.result.Statistics = r.result.Statistics.Add(s)
	r.result.Stages[stage] = r.result.Stages[stage].Add(s)
}

// timed runs fn as one stage with logging, a span and the stage histogram.
// section is the structure key for section and arc stages.
func (r *run) timed(ctx context.Context, stage Stage, section string, fn func(context.Context) error) error {
	start := time.Now()
	r.log.StageStart(string(stage))
	ctx, span := r.g.tracer.StartStageSpan(ctx, string(stage), section)
	err := fn(ctx)
	if err == nil {
		err = r.failedNotice()
	}
	r.g.tracer.EndStageSpan(span, err)
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	if err != nil {
		r.log.Error("stage_failed", map[string]interface{}{
			"stage":   stage,
			"section": section,
			"error":   err.Error(),
		})
		return err
	}
	r.log.StageComplete(string(stage), elapsed)
	return nil
}

// foundation writes the title and the cast concurrently.
func (r *run) foundation(ctx context.Context) error {
	var (
		titleStats, castStats llm.Statistics
		title                 string
		cast                  novel.Cast
	)

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return r.timed(egctx, StageTitle, "", func(ctx context.Context) error {
			var err error
			titleStats, title, err = r.writer.Title(ctx, r.req.TitlePrompt())
			return err
		})
	})
	eg.Go(func() error {
		return r.timed(egctx, StageCharacters, "", func(ctx context.Context) error {
			var err error
			castStats, cast, err = r.writer.Characters(ctx, agents.CharactersInput{
				Concept:      r.req.Concept,
				Instructions: r.instructions + "\n" + r.req.CharacterSeeds,
				Count:        r.req.Characters,
			})
			return err
		})
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	r.add(StageTitle, titleStats)
	r.add(StageCharacters, castStats)
	r.result.Title = title
	r.result.Characters = cast

	if err := r.emit(Event{Stage: StageTitle, Event: llm.TextEvent(title)}); err != nil {
		return err
	}
	if err := r.emit(Event{Stage: StageTitle, Event: llm.StatsEvent(titleStats)}); err != nil {
		return err
	}
	return r.emit(Event{Stage: StageCharacters, Event: llm.StatsEvent(castStats)})
}

// outline writes the plot, or the detailed structure for detailed runs.
func (r *run) outline(ctx context.Context) error {
	stage := StagePlot
	if r.req.Detailed {
		stage = StageStructure
	}

	var (
		stats     llm.Statistics
		structure *novel.Structure
	)
	err := r.timed(ctx, stage, "", func(ctx context.Context) error {
		var err error
		if r.req.Detailed {
			stats, structure, err = r.writer.NovelStructure(ctx, agents.StructureInput{
				Concept:        r.req.Concept,
				Genre:          r.req.Genre,
				NarrativeStyle: r.req.NarrativeStyle,
				Characters:     r.result.Characters,
				Themes:         r.req.Themes,
				Complexity:     r.req.Complexity,
				Twist:          r.req.Twist,
				Instructions:   r.instructions,
			})
		} else {
			stats, structure, err = r.writer.Plot(ctx, agents.PlotInput{
				Concept:        r.req.Concept,
				Characters:     r.result.Characters,
				Genre:          r.req.Genre,
				NarrativeStyle: r.req.NarrativeStyle,
				Instructions:   r.instructions,
			})
		}
		return err
	})
	if err != nil {
		return err
	}

	r.add(stage, stats)
	r.result.Structure = structure
	if n := len(structure.Quarantined); n > 0 {
		r.log.Warn("structure_quarantined", map[string]interface{}{
			"entries": n,
		})
	}
	r.log.Debug("structure", map[string]interface{}{
		"sections": len(structure.Titles()),
		"leaves":   len(structure.Leaves()),
	})
	return r.emit(Event{Stage: stage, Event: llm.StatsEvent(stats)})
}

// write streams every leaf under nodes in order. Parent titles accumulate
// into the plot context of their descendants.
func (r *run) write(ctx context.Context, nodes []*novel.Node, plotContext string, top bool) error {
	for _, n := range nodes {
		var err error
		if n.IsLeaf() {
			err = r.section(ctx, n, fmt.Sprintf("%s\nCurrent section: %s - %s", plotContext, n.Title, n.Description))
		} else {
			err = r.write(ctx, n.Children, fmt.Sprintf("%s\nParent section: %s", plotContext, n.Title), false)
		}
		if err != nil {
			return err
		}
		if top && r.req.TrackArcs {
			if err := r.arcs(ctx, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) section(ctx context.Context, n *novel.Node, plotContext string) error {
	key := n.Key()
	forward := func(ev llm.Event) error {
		if ev.Kind == llm.EventText {
			if err := r.result.Book.Append(key, ev.Text); err != nil {
				return err
			}
		}
		return r.emit(Event{Stage: StageSection, Section: key, Event: ev})
	}

	var stats llm.Statistics
	err := r.timed(ctx, StageSection, key, func(ctx context.Context) error {
		var err error
		if !r.req.Detailed {
			stats, err = r.writer.Section(ctx, agents.SectionInput{
				Title:        n.Title,
				PlotContext:  plotContext,
				Characters:   r.result.Characters.PromptJSON(),
				Tone:         r.req.Tone,
				Instructions: r.instructions,
			}, forward)
			return err
		}
		stats, err = r.writer.NovelSection(ctx, agents.NovelSectionInput{
			Title:           n.Title,
			Description:     n.Description,
			PlotContext:     plotContext,
			Characters:      r.result.Characters.PromptJSON(),
			Genre:           r.req.Genre,
			Tone:            r.req.Tone,
			NarrativeStyle:  r.req.NarrativeStyle,
			PreviousSummary: r.previous(ctx, n),
			Instructions:    r.instructions,
		}, forward)
		return err
	})
	r.add(StageSection, stats)
	if err != nil {
		return err
	}
	metrics.SectionsWrittenTotal.Inc()
	r.remember(ctx, n)
	return nil
}

// previous summarizes earlier sections relevant to n, falling back to the
// most recent ones when the index finds nothing.
func (r *run) previous(ctx context.Context, n *novel.Node) string {
	if r.g.memory != nil {
		summary, err := r.g.memory.Summary(ctx, n.Title+" "+n.Description, r.g.recallLimit, r.g.excerptChars)
		if err == nil && summary != "" {
			return summary
		}
		if err != nil {
			r.log.Warn("recall_failed", map[string]interface{}{
				"section": n.Key(),
				"error":   err.Error(),
			})
		}
	}
	completed := r.result.Book.Completed()
	if len(completed) > r.g.recallLimit {
		completed = completed[len(completed)-r.g.recallLimit:]
	}
	lines := make([]string, 0, len(completed))
	for _, s := range completed {
		lines = append(lines, s.Title+": "+novel.Tail(s.Content, r.g.excerptChars))
	}
	return strings.Join(lines, "\n")
}

// remember indexes a finished section. Index failures only cost recall
// quality, so they are logged and dropped.
func (r *run) remember(ctx context.Context, n *novel.Node) {
	if r.g.memory == nil {
		return
	}
	if _, err := r.g.memory.Remember(ctx, n.Key(), n.Title, r.result.Book.Content(n.Key())); err != nil {
		r.log.Warn("remember_failed", map[string]interface{}{
			"section": n.Key(),
			"error":   err.Error(),
		})
	}
}

// arcs advances the cast after the top-level section n.
func (r *run) arcs(ctx context.Context, n *novel.Node) error {
	var (
		stats llm.Statistics
		cast  novel.Cast
	)
	err := r.timed(ctx, StageArcs, n.Key(), func(ctx context.Context) error {
		var err error
		stats, cast, err = r.writer.CharacterArcs(ctx, agents.ArcsInput{
			Characters:        r.result.Characters,
			RecentDevelopment: n.Title + "\n" + novel.Tail(r.text(n), r.g.excerptChars*2),
			CompletedSummary:  r.result.Book.Summary(r.g.excerptChars),
		})
		return err
	})
	r.add(StageArcs, stats)
	if err != nil {
		return err
	}
	r.result.Characters = cast
	return r.emit(Event{Stage: StageArcs, Section: n.Key(), Event: llm.StatsEvent(stats)})
}

// text concatenates the prose of n and its descendants.
func (r *run) text(n *novel.Node) string {
	if n.IsLeaf() {
		return r.result.Book.Content(n.Key())
	}
	parts := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		if t := r.text(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
