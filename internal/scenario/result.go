package scenario

import (
	"context"
	"errors"
	"time"
)

// Status is the outcome of a run.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
	StatusError  Status = "error"
)

// Phase identifies where a run stopped.
type Phase string

const (
	PhaseBootstrap Phase = "bootstrap"
	PhaseNavigate  Phase = "navigate"
	PhaseSteps     Phase = "steps"
	PhaseAssert    Phase = "assert"
	PhaseDone      Phase = "done"
)

// StepResult records one executed step.
type StepResult struct {
	Index    int           `json:"index" yaml:"index"`
	Action   Action        `json:"action" yaml:"action"`
	Target   string        `json:"target,omitempty" yaml:"target,omitempty"`
	Passed   bool          `json:"passed" yaml:"passed"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// AssertionResult records one checked assertion.
type AssertionResult struct {
	Text     string        `json:"text" yaml:"text"`
	Visible  bool          `json:"visible" yaml:"visible"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Result is the immutable record of one scenario run.
type Result struct {
	RunID         string            `json:"run_id" yaml:"run_id"`
	ScenarioID    string            `json:"scenario_id" yaml:"scenario_id"`
	Title         string            `json:"title" yaml:"title"`
	Status        Status            `json:"status" yaml:"status"`
	Phase         Phase             `json:"phase" yaml:"phase"`
	Error         string            `json:"error,omitempty" yaml:"error,omitempty"`
	Cause         string            `json:"cause,omitempty" yaml:"cause,omitempty"`
	TargetURL     string            `json:"target_url" yaml:"target_url"`
	Driver        string            `json:"driver,omitempty" yaml:"driver,omitempty"`
	StartedAt     time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time         `json:"finished_at" yaml:"finished_at"`
	Duration      time.Duration     `json:"duration" yaml:"duration"`
	Steps         []StepResult      `json:"steps" yaml:"steps"`
	Assertions    []AssertionResult `json:"assertions" yaml:"assertions"`
	Screenshot    string            `json:"screenshot,omitempty" yaml:"screenshot,omitempty"`
	TeardownError string            `json:"teardown_error,omitempty" yaml:"teardown_error,omitempty"`

	// Err is the error that ended the run; not persisted.
	Err error `json:"-" yaml:"-"`
}

// Passed reports whether the run succeeded.
func (r *Result) Passed() bool { return r.Status == StatusPassed }

// fail records err as the reason the run stopped in phase.
func (r *Result) fail(phase Phase, err error) {
	r.Phase = phase
	r.Err = err
	r.Error = err.Error()
	if cause := errors.Unwrap(err); cause != nil {
		r.Cause = cause.Error()
	}

	var stepErr *StepError
	var assertErr *AssertionError
	switch {
	case phase == PhaseBootstrap, errors.Is(err, context.Canceled):
		r.Status = StatusError
	case errors.As(err, &stepErr), errors.As(err, &assertErr):
		r.Status = StatusFailed
	case errors.Is(err, context.DeadlineExceeded):
		r.Status = StatusError
	default:
		r.Status = StatusFailed
	}
}

// Summary counts results by status.
type Summary struct {
	Total  int `json:"total" yaml:"total"`
	Passed int `json:"passed" yaml:"passed"`
	Failed int `json:"failed" yaml:"failed"`
	Errors int `json:"errors" yaml:"errors"`
}

// Summarize tallies results.
func Summarize(results []*Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		default:
			s.Errors++
		}
	}
	return s
}

// OK reports whether every result passed.
func (s Summary) OK() bool { return s.Total > 0 && s.Passed == s.Total }
