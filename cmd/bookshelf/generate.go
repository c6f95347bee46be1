package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/bookshelf/agents"
	"github.com/vinayprograms/bookshelf/config"
	"github.com/vinayprograms/bookshelf/credentials"
	bkerrors "github.com/vinayprograms/bookshelf/errors"
	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/logging"
	"github.com/vinayprograms/bookshelf/memory"
	"github.com/vinayprograms/bookshelf/metrics"
	"github.com/vinayprograms/bookshelf/pipeline"
	"github.com/vinayprograms/bookshelf/ratelimit"
	"github.com/vinayprograms/bookshelf/retry"
	"github.com/vinayprograms/bookshelf/shutdown"
	"github.com/vinayprograms/bookshelf/telemetry"
)

var generateFlags struct {
	concept      string
	genre        string
	style        string
	tone         string
	characters   int
	romance      bool
	twist        bool
	complexity   string
	pacing       string
	instructions string
	seeds        string
	themes       string
	language     string
	arc          string
	detailed     bool
	arcs         bool
	json         bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a novel",
	Long: `Generate a novel from a concept. Prose streams to stdout as it is written;
waiting notices and statistics go to stderr.

Examples:
  # A short novel from a concept
  bookshelf generate --concept "A cartographer maps a city that rearranges itself each night"

  # A detailed structure with character arcs tracked between chapters
  bookshelf generate --concept "..." --genre Mystery --tone Dark --detailed --arcs

  # Machine-readable events, one JSON object per line
  bookshelf generate --concept "..." --json`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	f := generateCmd.Flags()
	f.StringVar(&generateFlags.concept, "concept", "", "novel concept (at least 10 characters)")
	f.StringVar(&generateFlags.genre, "genre", pipeline.Genres[0], "genre: "+strings.Join(pipeline.Genres, ", "))
	f.StringVar(&generateFlags.style, "style", pipeline.NarrativeStyles[0], "narrative style: "+strings.Join(pipeline.NarrativeStyles, ", "))
	f.StringVar(&generateFlags.tone, "tone", pipeline.Tones[0], "tone: "+strings.Join(pipeline.Tones, ", "))
	f.IntVar(&generateFlags.characters, "characters", pipeline.DefaultCharacters, fmt.Sprintf("number of main characters (%d-%d)", pipeline.MinCharacters, pipeline.MaxCharacters))
	f.BoolVar(&generateFlags.romance, "romance", false, "include a romance subplot")
	f.BoolVar(&generateFlags.twist, "twist", false, "include a plot twist")
	f.StringVar(&generateFlags.complexity, "complexity", pipeline.Complexities[0], "plot complexity: "+strings.Join(pipeline.Complexities, ", "))
	f.StringVar(&generateFlags.pacing, "pacing", pipeline.Pacings[0], "pacing: "+strings.Join(pipeline.Pacings, ", "))
	f.StringVar(&generateFlags.instructions, "instructions", "", "additional instructions for every agent")
	f.StringVar(&generateFlags.seeds, "seeds", "", "character ideas or starting points")
	f.StringVar(&generateFlags.themes, "themes", "", "themes for the detailed structure")
	f.StringVar(&generateFlags.language, "language", "", "output language")
	f.StringVar(&generateFlags.arc, "narrative-arc", pipeline.ArcAuto, "emotional arc: "+strings.Join(arcNames(), ", "))
	f.BoolVar(&generateFlags.detailed, "detailed", false, "use the detailed novel structure")
	f.BoolVar(&generateFlags.arcs, "arcs", false, "update character arcs after each top-level section")
	f.BoolVar(&generateFlags.json, "json", false, "write events and the result as JSON lines")
	_ = generateCmd.MarkFlagRequired("concept")
}

func arcNames() []string {
	return []string{pipeline.ArcAuto, "rags_to_riches", "riches_to_rags", "man_in_hole", "icarus", "cinderella", "oedipus"}
}

func requestFromFlags() pipeline.Request {
	return pipeline.Request{
		Concept:        generateFlags.concept,
		Genre:          generateFlags.genre,
		NarrativeStyle: generateFlags.style,
		Tone:           generateFlags.tone,
		Characters:     generateFlags.characters,
		Romance:        generateFlags.romance,
		Twist:          generateFlags.twist,
		Complexity:     generateFlags.complexity,
		Pacing:         generateFlags.pacing,
		Themes:         generateFlags.themes,
		Instructions:   generateFlags.instructions,
		CharacterSeeds: generateFlags.seeds,
		Language:       generateFlags.language,
		NarrativeArc:   generateFlags.arc,
		Detailed:       generateFlags.detailed,
		TrackArcs:      generateFlags.arcs,
	}
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	req := requestFromFlags()
	out := newRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), generateFlags.json, verbose)

	// Reject bad input before touching config, keys or the network.
	if err := req.Validate(); err != nil {
		return out.Finish(nil, err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return out.Finish(nil, bkerrors.WrapWithCode(err, bkerrors.ErrCodeInvalidInput, "loading configuration"))
	}

	logger, err := logging.NewWithConfig(cfg.LoggerConfig(cmd.ErrOrStderr()))
	if err != nil {
		return out.Finish(nil, err)
	}
	if verbose {
		logger.SetLevel(logging.LevelDebug)
	}

	coord := shutdown.New(shutdown.WithLogger(logger))
	defer coord.Close()
	coord.Register("logger", shutdown.PhaseLogs, func(context.Context) error {
		_ = logger.Sync() // fails harmlessly on terminals
		return nil
	})

	gen, err := build(cmd.Context(), cfg, logger, coord)
	if err != nil {
		return out.Finish(nil, err)
	}

	ctx, stop := shutdown.NotifyContext(cmd.Context())
	defer stop()

	result, err := gen.Run(ctx, req, out.Event)
	return out.Finish(result, err)
}

// build wires the provider, limiter, agents, section memory and tracing
// from cfg.
func build(ctx context.Context, cfg *config.Config, logger *logging.Logger, coord *shutdown.Coordinator) (*pipeline.Generator, error) {
	creds, err := credentials.Load()
	if err != nil {
		return nil, bkerrors.WrapWithCode(err, bkerrors.ErrCodeUnauthorized, "loading credentials")
	}
	key, source := creds.Lookup(cfg.Provider.Name)
	if source == credentials.SourceNone && !llm.IsLocalProvider(cfg.Provider.Name) {
		_, err := creds.Require(cfg.Provider.Name)
		return nil, bkerrors.WrapWithCode(err, bkerrors.ErrCodeUnauthorized, "missing API key")
	}
	logger.Debug("api_key", map[string]interface{}{"provider": cfg.Provider.Name, "source": string(source)})

	defaultModel := cfg.Agents.Section.Model
	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider: cfg.Provider.Name,
		Model:    defaultModel,
		APIKey:   key,
		BaseURL:  cfg.Provider.BaseURL,
		Timeout:  time.Duration(cfg.Provider.Timeout),
	})
	if err != nil {
		return nil, bkerrors.WrapWithCode(err, bkerrors.ErrCodeInvalidInput, "creating provider")
	}

	tracer := telemetry.Noop()
	if tc := cfg.TracingConfig(Version); tc.Enabled() {
		tp, err := telemetry.InitProvider(ctx, tc)
		if err != nil {
			return nil, bkerrors.WrapWithCode(err, bkerrors.ErrCodeInvalidInput, "initializing tracing")
		}
		coord.Register("tracing", shutdown.PhaseStorage, tp.Shutdown)
		tracer = tp.Tracer()
		logger.Debug("tracing", map[string]interface{}{"protocol": tc.Protocol, "service": tc.ServiceName})
	}

	limiter, err := ratelimit.NewTokenLimiter(cfg.Limiter(), ratelimit.WithLogger(logger))
	if err != nil {
		return nil, bkerrors.WrapWithCode(err, bkerrors.ErrCodeInvalidInput, "creating rate limiter")
	}
	instrumented := llm.WithTracing(llm.WithMetrics(provider, cfg.Provider.Name, defaultModel), tracer, cfg.Provider.Name, defaultModel)
	caller := retry.New(instrumented, limiter,
		retry.WithLogger(logger),
		retry.WithAdmissionRetries(cfg.RateLimit.MaxRetries),
	)
	writer := agents.New(caller, cfg.AgentSettings())
	for _, line := range writer.Summary() {
		logger.Debug("agent", map[string]interface{}{"settings": line})
	}

	index, err := memory.NewSectionIndex(memory.Config{Path: cfg.Memory.Path})
	if err != nil {
		return nil, bkerrors.Wrap(err, "opening section index")
	}
	coord.Register("section-index", shutdown.PhaseStorage, shutdown.Closer(index.Close))

	if cfg.Metrics.Addr != "" {
		srv, err := serveMetrics(cfg.Metrics.Addr, logger)
		if err != nil {
			return nil, err
		}
		coord.Register("metrics-server", shutdown.PhaseServers, srv.Shutdown)
	}

	return pipeline.New(writer,
		pipeline.WithMemory(index),
		pipeline.WithLogger(logger),
		pipeline.WithTracer(tracer),
		pipeline.WithRecall(cfg.Memory.RecallLimit, cfg.Memory.ExcerptChars),
	), nil
}

// serveMetrics starts the /metrics endpoint in the background.
func serveMetrics(addr string, logger *logging.Logger) (*http.Server, error) {
	reg, err := metrics.NewRegistry()
	if err != nil {
		return nil, bkerrors.Wrap(err, "registering metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, bkerrors.WrapWithCode(err, bkerrors.ErrCodeInvalidInput, "listening for metrics")
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server", map[string]interface{}{"error": err.Error()})
		}
	}()
	logger.Info("metrics_listening", map[string]interface{}{"addr": ln.Addr().String()})
	return srv, nil
}
