package scenario

import (
	"fmt"
	"time"
)

// StepError reports the step that aborted a scenario. Unwrap yields the
// driver error untouched so callers can match it with errors.Is.
type StepError struct {
	Index int
	Step  Step
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// AssertionError reports an expected user outcome that was not observed. The
// message names the outcome rather than the underlying wait failure, which
// stays reachable through Unwrap.
type AssertionError struct {
	Scenario string
	Outcome  string
	Text     string
	Timeout  time.Duration
	Cause    error
}

func (e *AssertionError) Error() string {
	outcome := e.Outcome
	if outcome == "" {
		outcome = fmt.Sprintf("%q should be visible", e.Text)
	}
	return fmt.Sprintf("%s: expected outcome not observed: %s (text %q not visible within %s)",
		e.Scenario, outcome, e.Text, e.Timeout)
}

func (e *AssertionError) Unwrap() error { return e.Cause }

// BootstrapError reports a failure to acquire the browser session.
type BootstrapError struct {
	Err error
}

func (e *BootstrapError) Error() string { return "session bootstrap: " + e.Err.Error() }

func (e *BootstrapError) Unwrap() error { return e.Err }

// NavigationError reports that the initial navigation never committed.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }
