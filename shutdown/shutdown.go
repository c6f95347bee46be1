package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/bookshelf/logging"
)

// ErrTimeout is recorded for steps that never started because the shutdown
// deadline passed.
var ErrTimeout = errors.New("shutdown timeout exceeded")

// DefaultTimeout bounds Close.
const DefaultTimeout = 10 * time.Second

// Phase orders cleanup steps. Lower phases run first.
type Phase int

const (
	PhaseGeneration Phase = 10 // stop in-flight work
	PhaseServers    Phase = 20 // stop listeners
	PhaseStorage    Phase = 30 // close indexes and files
	PhaseLogs       Phase = 40 // flush logs last
)

// Func releases one resource.
type Func func(ctx context.Context) error

// Closer adapts a Close or Sync method to a Func.
func Closer(fn func() error) Func {
	return func(context.Context) error { return fn() }
}

// Step is the outcome of one registered cleanup.
type Step struct {
	Name     string
	Phase    Phase
	Duration time.Duration
	Err      error
}

// Report describes a completed shutdown.
type Report struct {
	Steps    []Step
	Duration time.Duration
}

// Failed returns the names of failed steps.
func (r *Report) Failed() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s.Name)
		}
	}
	return out
}

// Err joins the errors of failed steps, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}
	return errors.Join(errs...)
}

type registration struct {
	name  string
	phase Phase
	fn    Func
}

// Coordinator runs registered steps once.
type Coordinator struct {
	logger  *logging.Logger
	timeout time.Duration

	mu     sync.Mutex
	steps  []registration
	once   sync.Once
	report *Report
	done   chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger logs each step.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l.WithComponent("shutdown")
	}
}

// WithTimeout sets the deadline used by Close.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:  logging.Nop(),
		timeout: DefaultTimeout,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a step. Steps registered after shutdown began are ignored.
func (c *Coordinator) Register(name string, phase Phase, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, registration{name: name, phase: phase, fn: fn})
}

// Shutdown runs every step in phase order. Only the first call runs the
// steps; later calls wait for it and return the same report.
func (c *Coordinator) Shutdown(ctx context.Context) *Report {
	c.once.Do(func() {
		c.report = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.report
}

// Close runs Shutdown under the configured timeout and returns Report.Err.
func (c *Coordinator) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.Shutdown(ctx).Err()
}

// Done is closed when shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) run(ctx context.Context) *Report {
	start := time.Now()
	c.mu.Lock()
	steps := append([]registration(nil), c.steps...)
	c.mu.Unlock()
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].phase < steps[j].phase })

	report := &Report{}
	for _, group := range byPhase(steps) {
		if ctx.Err() != nil {
			for _, reg := range group {
				report.Steps = append(report.Steps, Step{Name: reg.name, Phase: reg.phase, Err: ErrTimeout})
			}
			continue
		}
		report.Steps = append(report.Steps, c.runPhase(ctx, group)...)
	}
	report.Duration = time.Since(start)

	if failed := report.Failed(); len(failed) > 0 {
		c.logger.Warn("shutdown_incomplete", map[string]interface{}{
			"failed":   failed,
			"duration": report.Duration,
		})
	} else {
		c.logger.Debug("shutdown_complete", map[string]interface{}{
			"steps":    len(report.Steps),
			"duration": report.Duration,
		})
	}
	return report
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []Step {
	out := make([]Step, len(group))
	var wg sync.WaitGroup
	for i, reg := range group {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			start := time.Now()
			err := reg.fn(ctx)
			out[i] = Step{Name: reg.name, Phase: reg.phase, Duration: time.Since(start), Err: err}
			if err != nil {
				c.logger.Error("shutdown_step_failed", map[string]interface{}{
					"step":  reg.name,
					"error": err.Error(),
				})
			}
		}(i, reg)
	}
	wg.Wait()
	return out
}

// byPhase splits sorted steps into runs of equal phase.
func byPhase(steps []registration) [][]registration {
	var groups [][]registration
	for i := 0; i < len(steps); {
		j := i
		for j < len(steps) && steps[j].phase == steps[i].phase {
			j++
		}
		groups = append(groups, steps[i:j])
		i = j
	}
	return groups
}

// NotifyContext returns a context canceled on SIGINT or SIGTERM. Calling
// stop restores default signal handling, so a second interrupt kills the
// process.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
