// Package fixture runs ordered lifecycle steps against a ResourceClient. A
// step that fails is recorded and the run moves on; only a missing
// precondition stops a step from calling the server.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/fhircheck/internal/client"
)

// Step is one named operation in a fixture.
type Step struct {
	Name     string
	Requires []Requirement
	Expect   StatusSet
	Call     func(ctx context.Context, c *client.ResourceClient, s *State) (*client.Result, error)
	// Extract runs whenever Call produced a result.
	Extract Extractor
	Checks  []Check
}

type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

type StepOutcome struct {
	Index     int
	Name      string
	Outcome   Outcome
	Expected  StatusSet
	Result    *client.Result
	Err       error
	StartedAt time.Time
	Elapsed   time.Duration
}

// StatusCode is 0 when no response was received.
func (o StepOutcome) StatusCode() int {
	if o.Result == nil {
		return 0
	}
	return o.Result.StatusCode
}

type Summary struct {
	RunID        string
	Name         string
	ResourceType string
	StartedAt    time.Time
	FinishedAt   time.Time
	Passed       int
	Failed       int
	Skipped      int
	Outcomes     []StepOutcome
}

func (s Summary) Total() int { return s.Passed + s.Failed + s.Skipped }

// OK is true when nothing failed or was skipped.
func (s Summary) OK() bool { return s.Failed == 0 && s.Skipped == 0 }

func (s Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

type Option func(*Runner)

func WithObservers(obs ...Observer) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, obs...)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

type Runner struct {
	name      string
	client    *client.ResourceClient
	steps     []Step
	observers []Observer
	logger    zerolog.Logger
	now       func() time.Time
}

func New(name string, c *client.ResourceClient, steps []Step, opts ...Option) *Runner {
	r := &Runner{
		name:   name,
		client: c,
		steps:  steps,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Name() string { return r.name }

// Run executes every step in order with a fresh State and returns the
// summary. It never returns early.
func (r *Runner) Run(ctx context.Context) Summary {
	info := RunInfo{
		RunID:     uuid.NewString(),
		Name:      r.name,
		StartedAt: r.now(),
		Steps:     len(r.steps),
	}
	if r.client != nil {
		info.ResourceType = r.client.Descriptor().ResourceType
	}
	logger := r.logger.With().Str("run_id", info.RunID).Str("fixture", r.name).Logger()

	for _, o := range r.observers {
		o.RunStarted(info)
	}

	state := newState()
	summary := Summary{
		RunID:        info.RunID,
		Name:         info.Name,
		ResourceType: info.ResourceType,
		StartedAt:    info.StartedAt,
		Outcomes:     make([]StepOutcome, 0, len(r.steps)),
	}

	for i, step := range r.steps {
		for _, o := range r.observers {
			o.StepStarted(info, i, step.Name)
		}

		out := r.runStep(ctx, i, step, state)
		switch out.Outcome {
		case OutcomePassed:
			summary.Passed++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeSkipped:
			summary.Skipped++
		}
		summary.Outcomes = append(summary.Outcomes, out)

		logger.Debug().
			Str("step", step.Name).
			Str("outcome", string(out.Outcome)).
			Int("status", out.StatusCode()).
			Err(out.Err).
			Msg("step finished")

		for _, o := range r.observers {
			o.StepFinished(info, out)
		}
	}

	summary.FinishedAt = r.now()
	for _, o := range r.observers {
		o.RunFinished(summary)
	}
	return summary
}

// runStep never panics: a panic in Call, Extract or a Check fails the step.
func (r *Runner) runStep(ctx context.Context, index int, step Step, state *State) (out StepOutcome) {
	out = StepOutcome{
		Index:     index,
		Name:      step.Name,
		Expected:  step.Expect,
		StartedAt: r.now(),
	}
	defer func() {
		if p := recover(); p != nil {
			out.Outcome = OutcomeFailed
			out.Err = fmt.Errorf("step %q panicked: %v", step.Name, p)
		}
	}()

	for _, req := range step.Requires {
		if !req.satisfiedBy(state) {
			out.Outcome = OutcomeSkipped
			out.Err = &PreconditionError{Step: step.Name, Missing: req}
			return out
		}
	}

	if step.Call == nil {
		out.Outcome = OutcomeFailed
		out.Err = errors.New("step has no call")
		return out
	}

	start := time.Now()
	res, err := step.Call(ctx, r.client, state)
	out.Elapsed = time.Since(start)
	out.Result = res
	if err != nil {
		out.Outcome = OutcomeFailed
		out.Err = err
		return out
	}
	if res == nil {
		out.Outcome = OutcomeFailed
		out.Err = errors.New("step returned no result")
		return out
	}

	var errs []error
	if !step.Expect.Contains(res.StatusCode) {
		errs = append(errs, &UnexpectedStatusError{Step: step.Name, Got: res.StatusCode, Expected: step.Expect})
	}

	if step.Extract != nil {
		step.Extract(res, state)
	}

	for _, check := range step.Checks {
		if err := check(res, state); err != nil {
			errs = append(errs, err)
			break
		}
	}

	if len(errs) > 0 {
		out.Outcome = OutcomeFailed
		out.Err = errors.Join(errs...)
		return out
	}
	out.Outcome = OutcomePassed
	return out
}

