// Package logging provides leveled, component-scoped logging for the
// generation pipeline, backed by zap. Prose is written to stdout by the CLI;
// logs default to stderr so the two never interleave.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a config string (debug, info, warn, error) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level %q", s)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Format selects the encoder.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config configures a Logger.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer // default: stderr
}

// Logger wraps a zap logger with component and trace scoping.
// Loggers derived via WithComponent/WithTraceID share the level and output.
type Logger struct {
	sink      *sink
	component string
	traceID   string
}

// sink holds the state shared by derived loggers.
type sink struct {
	mu     sync.RWMutex
	level  zap.AtomicLevel
	format Format
	zl     *zap.Logger
}

// New creates a console Logger at INFO writing to stderr.
func New() *Logger {
	l, _ := NewWithConfig(Config{Level: LevelInfo, Format: FormatConsole})
	return l
}

// NewWithConfig creates a Logger from explicit configuration.
func NewWithConfig(cfg Config) (*Logger, error) {
	format := cfg.Format
	if format == "" {
		format = FormatConsole
	}
	if format != FormatConsole && format != FormatJSON {
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	level := cfg.Level
	if level == "" {
		level = LevelInfo
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	s := &sink{
		level:  zap.NewAtomicLevelAt(level.zapLevel()),
		format: format,
	}
	s.zl = s.build(out)
	return &Logger{sink: s}, nil
}

// NewFromZap adopts an existing zap logger. Level filtering is left to the
// zap core; SetLevel only affects loggers built by this package.
func NewFromZap(zl *zap.Logger) *Logger {
	return &Logger{sink: &sink{
		level:  zap.NewAtomicLevelAt(zapcore.DebugLevel),
		format: FormatConsole,
		zl:     zl,
	}}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return NewFromZap(zap.NewNop())
}

func (s *sink) build(out io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	if s.format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(out), s.level)
	return zap.New(core)
}

func (s *sink) logger() *zap.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zl
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component, traceID: l.traceID}
}

// WithTraceID returns a new logger tagged with a trace (run) ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{sink: l.sink, component: l.component, traceID: traceID}
}

// SetLevel sets the minimum log level for this logger and all derived loggers.
func (l *Logger) SetLevel(level Level) {
	l.sink.level.SetLevel(level.zapLevel())
}

// SetOutput redirects output for this logger and all derived loggers.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.zl = l.sink.build(w)
}

// Zap returns the underlying zap logger with component and trace applied.
func (l *Logger) Zap() *zap.Logger {
	zl := l.sink.logger()
	if l.component != "" {
		zl = zl.Named(l.component)
	}
	if l.traceID != "" {
		zl = zl.With(zap.String("trace_id", l.traceID))
	}
	return zl
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.sink.logger().Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.DebugLevel, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.InfoLevel, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.WarnLevel, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.ErrorLevel, msg, fields...)
}

// toZapFields converts a field map to zap fields in key order so output is stable.
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		case time.Duration:
			out = append(out, zap.Duration(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

func (l *Logger) log(level zapcore.Level, msg string, fields ...map[string]interface{}) {
	zl := l.Zap()
	if ce := zl.Check(level, msg); ce != nil {
		var zf []zap.Field
		if len(fields) > 0 && fields[0] != nil {
			zf = toZapFields(fields[0])
		}
		ce.Write(zf...)
	}
}

// --- Event helpers ---
// Called by the limiter, the retry loop and the pipeline so every component
// reports the same events with the same keys.

// CapacityWait logs that a request is waiting for window capacity.
func (l *Logger) CapacityWait(tokens int, wait time.Duration, attempt int) {
	l.Info("capacity_wait", map[string]interface{}{
		"tokens":  tokens,
		"wait":    wait,
		"attempt": attempt,
	})
}

// RateLimitPause logs a process-wide pause after a provider 429.
func (l *Logger) RateLimitPause(pause time.Duration, fromRetryAfter bool) {
	l.Warn("rate_limit_pause", map[string]interface{}{
		"pause":       pause,
		"retry_after": fromRetryAfter,
	})
}

// AttemptFailed logs one failed attempt inside a retry loop.
func (l *Logger) AttemptFailed(agent string, attempt int, outcome string, err error) {
	fields := map[string]interface{}{
		"agent":   agent,
		"attempt": attempt,
		"outcome": outcome,
	}
	if err != nil {
		fields["error"] = err
	}
	l.Warn("attempt_failed", fields)
}

// FallbackUsed logs that an agent degraded to its fallback payload.
func (l *Logger) FallbackUsed(agent string, attempts int, err error) {
	fields := map[string]interface{}{
		"agent":    agent,
		"attempts": attempts,
	}
	if err != nil {
		fields["error"] = err
	}
	l.Warn("fallback_used", fields)
}

// StageStart logs the start of a pipeline stage.
func (l *Logger) StageStart(stage string) {
	l.Info("stage_start", map[string]interface{}{
		"stage": stage,
	})
}

// StageComplete logs the completion of a pipeline stage.
func (l *Logger) StageComplete(stage string, duration time.Duration) {
	l.Info("stage_complete", map[string]interface{}{
		"stage":    stage,
		"duration": duration,
	})
}
