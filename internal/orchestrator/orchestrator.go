// Package orchestrator runs setup steps strictly in order. The first failing step halts
// the run, and every step's status is kept as the run's audit trail.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/sapautomation/sdaf-setup/internal/models"
	"github.com/segmentio/ksuid"
)

// Status is the state of one step in a run
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Done reports whether the status is terminal
func (s Status) Done() bool {
	return s == StatusSuccess || s == StatusError || s == StatusSkipped
}

// Step is one unit of setup work
type Step interface {
	Name() string
	Run(ctx context.Context, state *models.SetupState) error
}

// SkipError marks a step that had nothing to do. The pipeline continues.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip returns an error that records the step as skipped instead of failed
func Skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

type stepFunc struct {
	name string
	fn   func(ctx context.Context, state *models.SetupState) error
}

func (s stepFunc) Name() string { return s.name }

func (s stepFunc) Run(ctx context.Context, state *models.SetupState) error { return s.fn(ctx, state) }

// StepFunc adapts a function to the Step interface
func StepFunc(name string, fn func(ctx context.Context, state *models.SetupState) error) Step {
	return stepFunc{name: name, fn: fn}
}

// StepResult is the recorded outcome of one step
type StepResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// Report is the audit trail of one run
type Report struct {
	RunID   string       `json:"run_id"`
	Steps   []StepResult `json:"steps"`
	Created []string     `json:"created,omitempty"`
}

// Success reports whether no step failed and none was left pending
func (r *Report) Success() bool {
	for _, step := range r.Steps {
		if step.Status != StatusSuccess && step.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// Failed returns the step that halted the run, or nil
func (r *Report) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Status == StatusError {
			return &r.Steps[i]
		}
	}
	return nil
}

// Step returns the result for name, or nil
func (r *Report) Step(name string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// Observer receives a copy of a step result on every transition
type Observer func(result StepResult)

// Pipeline is an ordered list of steps
type Pipeline struct {
	steps    []Step
	observer Observer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithObserver registers a callback for step transitions
func WithObserver(observer Observer) Option {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

func New(steps []Step, opts ...Option) *Pipeline {
	p := &Pipeline{steps: steps}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Names returns the step names in execution order
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.steps))
	for _, step := range p.steps {
		names = append(names, step.Name())
	}
	return names
}

// Run executes the steps in order. A step runs only if every earlier step succeeded or
// was skipped. The returned error is the halting step's error.
func (p *Pipeline) Run(ctx context.Context, state *models.SetupState) (*Report, error) {
	runID := ksuid.New().String()
	logger := zerolog.Ctx(ctx).With().
		Str("run_id", runID).
		Str("repository", state.Input.RepositoryName).
		Str("environment", state.Input.Environment).
		Logger()
	ctx = logger.WithContext(ctx)

	report := &Report{RunID: runID}
	for _, step := range p.steps {
		report.Steps = append(report.Steps, StepResult{Name: step.Name(), Status: StatusPending})
	}
	for _, result := range report.Steps {
		p.notify(result)
	}

	logger.Info().Strs("steps", p.Names()).Msg("Starting setup")

	var runErr error
	for i, step := range p.steps {
		result := &report.Steps[i]

		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("setup cancelled before %s: %w", step.Name(), err)
			break
		}

		stepLogger := logger.With().Str("step", step.Name()).Logger()
		stepCtx := stepLogger.WithContext(ctx)

		result.Status = StatusRunning
		p.notify(*result)
		stepLogger.Info().Msg("Step started")

		start := time.Now()
		err := runStep(stepCtx, step, state)
		result.Duration = time.Since(start)

		var skip *SkipError
		switch {
		case err == nil:
			result.Status = StatusSuccess
			stepLogger.Info().Dur("duration", result.Duration).Msg("Step succeeded")
		case errors.As(err, &skip):
			result.Status = StatusSkipped
			result.Detail = skip.Reason
			stepLogger.Info().Str("reason", skip.Reason).Msg("Step skipped")
		default:
			result.Status = StatusError
			result.Detail = err.Error()
			result.Err = err
			stepLogger.Error().Err(err).Dur("duration", result.Duration).Msg("Step failed")
			runErr = fmt.Errorf("step %s failed: %w", step.Name(), err)
		}
		p.notify(*result)

		if runErr != nil {
			break
		}
	}

	report.Created = state.Created()
	if runErr != nil {
		logger.Error().Strs("created", report.Created).Msg("Setup halted")
		return report, runErr
	}

	logger.Info().Msg("Setup completed")
	return report, nil
}

// RunAsync runs the pipeline on its own goroutine so a display can stay responsive.
// The channel receives exactly one report and is then closed.
func (p *Pipeline) RunAsync(ctx context.Context, state *models.SetupState) <-chan *Report {
	ch := make(chan *Report, 1)
	go func() {
		defer close(ch)
		report, _ := p.Run(ctx, state)
		ch <- report
	}()
	return ch
}

func (p *Pipeline) notify(result StepResult) {
	if p.observer != nil {
		p.observer(result)
	}
}

// runStep converts a panic into an error so it is reported like any other step failure
func runStep(ctx context.Context, step Step, state *models.SetupState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Str("stack", string(debug.Stack())).Msg("Step panicked")
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()
	return step.Run(ctx, state)
}
