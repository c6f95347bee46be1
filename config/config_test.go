package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/bookshelf/agents"
	"github.com/vinayprograms/bookshelf/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Provider.Name != "groq" {
		t.Errorf("provider = %q, want groq", cfg.Provider.Name)
	}
	lc := cfg.Limiter()
	if lc.EffectiveLimit() != 5400 {
		t.Errorf("effective limit = %d, want 5400", lc.EffectiveLimit())
	}
	if lc.DefaultPause != 70*time.Second {
		t.Errorf("default pause = %v, want 70s", lc.DefaultPause)
	}
	if cfg.Agents.Section.Model != agents.ModelLlama33 {
		t.Errorf("section model = %q", cfg.Agents.Section.Model)
	}
}

func TestLoad_MissingKeysKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
[ratelimit]
tokens_per_minute = 30000

[agents.section]
max_attempts = 7

[logging]
format = "json"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.TokensPerMinute != 30000 {
		t.Errorf("tpm = %d", cfg.RateLimit.TokensPerMinute)
	}
	if cfg.RateLimit.SafetyMargin != 0.9 {
		t.Errorf("safety margin = %v, want default 0.9", cfg.RateLimit.SafetyMargin)
	}
	if cfg.Agents.Section.MaxAttempts != 7 {
		t.Errorf("section attempts = %d, want 7", cfg.Agents.Section.MaxAttempts)
	}
	if cfg.Agents.Section.Model != agents.ModelLlama33 {
		t.Errorf("section model = %q, want default kept", cfg.Agents.Section.Model)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("format = %q", cfg.Logging.Format)
	}
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, `
[ratelimit]
window = "30s"
default_pause = "2m"

[retry]
base_delay = "250ms"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lc := cfg.Limiter()
	if lc.Window != 30*time.Second || lc.DefaultPause != 2*time.Minute {
		t.Errorf("limiter durations = %v, %v", lc.Window, lc.DefaultPause)
	}
	s := cfg.AgentSettings()[agents.KindPlot]
	if s.Policy.BaseDelay != 250*time.Millisecond {
		t.Errorf("plot base delay = %v", s.Policy.BaseDelay)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[provider\nname=", "parsing config"},
		{"unknown key", "[provider]\nflavour = \"x\"", "unknown key"},
		{"bad duration", "[ratelimit]\nwindow = \"soon\"", "parsing config"},
		{"bad provider", "[provider]\nname = \"carrier-pigeon\"", "unsupported provider"},
		{"bad margin", "[ratelimit]\nsafety_margin = 1.5", "safety margin"},
		{"zero attempts", "[agents.arcs]\nmax_attempts = 0", "agents.arcs.max_attempts"},
		{"bad level", "[logging]\nlevel = \"loud\"", "logging.level"},
		{"bad format", "[logging]\nformat = \"xml\"", "logging.format"},
		{"bad telemetry protocol", "[telemetry]\nprotocol = \"udp\"", "telemetry.protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoad_EmptyPathWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "groq" {
		t.Errorf("expected defaults, got provider %q", cfg.Provider.Name)
	}
}

func TestLoad_EmptyPathUsesDefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "bookshelf"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(DefaultPath(), []byte("[provider]\nname = \"openai\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "openai" {
		t.Errorf("provider = %q, want openai", cfg.Provider.Name)
	}
}

func TestAgentSettings(t *testing.T) {
	cfg := Default()
	cfg.Agents.Title.Model = agents.ModelGemma2
	settings := cfg.AgentSettings()
	if len(settings) != len(agents.Kinds()) {
		t.Fatalf("got %d settings, want %d", len(settings), len(agents.Kinds()))
	}
	if settings[agents.KindTitle].Model != agents.ModelGemma2 {
		t.Errorf("title model = %q", settings[agents.KindTitle].Model)
	}
	if settings[agents.KindStructure].Policy.MaxAttempts != 5 {
		t.Errorf("structure attempts = %d", settings[agents.KindStructure].Policy.MaxAttempts)
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "debug"
	var buf bytes.Buffer
	lc := cfg.LoggerConfig(&buf)
	if lc.Level != logging.LevelDebug {
		t.Errorf("level = %q", lc.Level)
	}
	if lc.Output != &buf {
		t.Error("output not propagated")
	}
}

func TestTracingConfig(t *testing.T) {
	path := writeConfig(t, "[telemetry]\nendpoint = \"localhost:4318\"\nprotocol = \"http\"\ninsecure = true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tc := cfg.TracingConfig("1.2.3")
	if tc.Endpoint != "localhost:4318" || tc.Protocol != "http" || !tc.Insecure {
		t.Errorf("tracing config = %+v", tc)
	}
	if tc.ServiceName != "bookshelf" || tc.ServiceVersion != "1.2.3" {
		t.Errorf("service = %q %q", tc.ServiceName, tc.ServiceVersion)
	}
}

func TestPrint_RoundTrips(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Window = Duration(45 * time.Second)
	var buf bytes.Buffer
	if err := Print(cfg, &buf); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if !strings.Contains(buf.String(), `window = "45s"`) {
		t.Errorf("durations should print as strings:\n%s", buf.String())
	}
	loaded, err := Load(writeConfig(t, buf.String()))
	if err != nil {
		t.Fatalf("Load printed config: %v", err)
	}
	if loaded.RateLimit.Window != cfg.RateLimit.Window {
		t.Errorf("window = %v, want %v", loaded.RateLimit.Window, cfg.RateLimit.Window)
	}
}
