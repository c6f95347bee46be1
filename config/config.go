// Package config loads bookshelf.toml.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/bookshelf/agents"
	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/logging"
	"github.com/vinayprograms/bookshelf/ratelimit"
	"github.com/vinayprograms/bookshelf/retry"
	"github.com/vinayprograms/bookshelf/telemetry"
)

// FileName is the default config file name.
const FileName = "bookshelf.toml"

// Config is the full configuration.
type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Retry     RetryConfig     `toml:"retry"`
	Agents    AgentsConfig    `toml:"agents"`
	Memory    MemoryConfig    `toml:"memory"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ProviderConfig selects the LLM backend.
type ProviderConfig struct {
	Name    string   `toml:"name"`
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

// RateLimitConfig configures the shared token limiter.
type RateLimitConfig struct {
	TokensPerMinute int      `toml:"tokens_per_minute"`
	SafetyMargin    float64  `toml:"safety_margin"`
	Window          Duration `toml:"window"`
	DefaultPause    Duration `toml:"default_pause"`
	MinWait         Duration `toml:"min_wait"`
	MaxRetries      int      `toml:"max_retries"` // admission attempts per request
}

// RetryConfig configures the backoff shared by all agents.
type RetryConfig struct {
	BaseDelay Duration `toml:"base_delay"`
}

// AgentConfig overrides one agent.
type AgentConfig struct {
	Model           string `toml:"model"`
	MaxAttempts     int    `toml:"max_attempts"`
	OutputAllowance int    `toml:"output_allowance"`
}

// AgentsConfig holds one section per agent.
type AgentsConfig struct {
	Title        AgentConfig `toml:"title"`
	Characters   AgentConfig `toml:"characters"`
	Plot         AgentConfig `toml:"plot"`
	Structure    AgentConfig `toml:"structure"`
	Arcs         AgentConfig `toml:"arcs"`
	Section      AgentConfig `toml:"section"`
	NovelSection AgentConfig `toml:"novel_section"`
}

// MemoryConfig configures the section index.
type MemoryConfig struct {
	Path         string `toml:"path"` // empty keeps the index in memory
	RecallLimit  int    `toml:"recall_limit"`
	ExcerptChars int    `toml:"excerpt_chars"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"` // empty disables the /metrics server
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"` // empty falls back to OTEL_EXPORTER_OTLP_ENDPOINT
	Protocol    string `toml:"protocol"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
	Debug       bool   `toml:"debug"` // prompts and prose in spans
}

// Default returns the built-in configuration.
func Default() *Config {
	settings := agents.DefaultSettings()
	agent := func(k agents.Kind) AgentConfig {
		s := settings[k]
		return AgentConfig{Model: s.Model, MaxAttempts: s.Policy.MaxAttempts, OutputAllowance: s.Policy.OutputAllowance}
	}
	return &Config{
		Provider: ProviderConfig{
			Name:    "groq",
			Timeout: Duration(llm.DefaultTimeout),
		},
		RateLimit: RateLimitConfig{
			TokensPerMinute: ratelimit.DefaultTokensPerMinute,
			SafetyMargin:    ratelimit.DefaultSafetyMargin,
			Window:          Duration(ratelimit.DefaultWindow),
			DefaultPause:    Duration(ratelimit.DefaultPause),
			MinWait:         Duration(ratelimit.DefaultMinWait),
			MaxRetries:      retry.DefaultAdmissionRetries,
		},
		Retry: RetryConfig{BaseDelay: Duration(ratelimit.DefaultBaseDelay)},
		Agents: AgentsConfig{
			Title:        agent(agents.KindTitle),
			Characters:   agent(agents.KindCharacters),
			Plot:         agent(agents.KindPlot),
			Structure:    agent(agents.KindStructure),
			Arcs:         agent(agents.KindArcs),
			Section:      agent(agents.KindSection),
			NovelSection: agent(agents.KindNovelSection),
		},
		Memory: MemoryConfig{
			RecallLimit:  3,
			ExcerptChars: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatConsole),
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: telemetry.DefaultServiceName,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/bookshelf/bookshelf.toml or
// ~/.config/bookshelf/bookshelf.toml.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bookshelf", FileName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bookshelf", FileName)
}

// Load decodes path over Default so missing keys keep their defaults.
// An empty path tries DefaultPath and falls back to Default when that file
// does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks limits and names.
func (c *Config) Validate() error {
	if !llm.IsSupportedProvider(c.Provider.Name) {
		return fmt.Errorf("provider.name: unsupported provider %q", c.Provider.Name)
	}
	limiter := c.Limiter()
	if err := limiter.Validate(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if c.RateLimit.MaxRetries < 1 {
		return fmt.Errorf("ratelimit.max_retries must be positive")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive")
	}
	for name, a := range c.Agents.byKind() {
		if a.Model == "" {
			return fmt.Errorf("agents.%s.model is required", name)
		}
		if a.MaxAttempts < 1 {
			return fmt.Errorf("agents.%s.max_attempts must be positive", name)
		}
		if a.OutputAllowance < 0 {
			return fmt.Errorf("agents.%s.output_allowance must not be negative", name)
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch logging.Format(c.Logging.Format) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}
	return nil
}

// Limiter returns the token limiter configuration.
func (c *Config) Limiter() ratelimit.Config {
	return ratelimit.Config{
		TokensPerMinute: c.RateLimit.TokensPerMinute,
		SafetyMargin:    c.RateLimit.SafetyMargin,
		Window:          time.Duration(c.RateLimit.Window),
		DefaultPause:    time.Duration(c.RateLimit.DefaultPause),
		MinWait:         time.Duration(c.RateLimit.MinWait),
	}
}

// AgentSettings returns per-agent settings for agents.New.
func (c *Config) AgentSettings() map[agents.Kind]agents.Settings {
	out := make(map[agents.Kind]agents.Settings)
	for k, a := range c.Agents.byKind() {
		out[k] = agents.Settings{
			Model: a.Model,
			Policy: retry.Policy{
				MaxAttempts:     a.MaxAttempts,
				BaseDelay:       time.Duration(c.Retry.BaseDelay),
				OutputAllowance: a.OutputAllowance,
			},
		}
	}
	return out
}

// LoggerConfig returns the logging configuration writing to out.
func (c *Config) LoggerConfig(out io.Writer) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{Level: level, Format: logging.Format(c.Logging.Format), Output: out}
}

// TracingConfig returns the OTLP provider configuration.
func (c *Config) TracingConfig(version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Protocol:       c.Telemetry.Protocol,
		Insecure:       c.Telemetry.Insecure,
		Debug:          c.Telemetry.Debug,
		ExportTimeout:  10 * time.Second,
	}
}

func (a AgentsConfig) byKind() map[agents.Kind]AgentConfig {
	return map[agents.Kind]AgentConfig{
		agents.KindTitle:        a.Title,
		agents.KindCharacters:   a.Characters,
		agents.KindPlot:         a.Plot,
		agents.KindStructure:    a.Structure,
		agents.KindArcs:         a.Arcs,
		agents.KindSection:      a.Section,
		agents.KindNovelSection: a.NovelSection,
	}
}

// Print writes c as TOML.
func Print(c *Config, w io.Writer) error {
	fmt.Fprintln(w, "# bookshelf configuration")
	fmt.Fprintln(w)
	return toml.NewEncoder(w).Encode(c)
}
