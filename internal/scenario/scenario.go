// Package scenario runs declarative browser scenarios against the recipe
// recommender UI. A scenario is an ordered list of interaction steps followed
// by visibility assertions; the Runner wraps it in session bootstrap,
// navigation and guaranteed teardown.
package scenario

import (
	"fmt"
	"time"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

// Action is the kind of an interaction step.
type Action string

const (
	ActionClick      Action = "click"
	ActionFill       Action = "fill"
	ActionGoto       Action = "goto"
	ActionScroll     Action = "scroll"
	ActionScrollPage Action = "scroll_page"
	ActionViewport   Action = "viewport"
	ActionPause      Action = "pause"
)

// Actions lists every supported step action.
var Actions = []Action{ActionClick, ActionFill, ActionGoto, ActionScroll, ActionScrollPage, ActionViewport, ActionPause}

// NeedsTarget reports whether the action operates on a located element.
func (a Action) NeedsTarget() bool {
	return a == ActionClick || a == ActionFill
}

// Step is one interaction. Target is the name or inline notation the step was
// written with; Locator is its resolved form.
type Step struct {
	Action  Action          `json:"action" yaml:"action"`
	Target  string          `json:"target,omitempty" yaml:"target,omitempty"`
	Locator browser.Locator `json:"-" yaml:"-"`
	Value   string          `json:"value,omitempty" yaml:"value,omitempty"`
	DX      float64         `json:"dx,omitempty" yaml:"dx,omitempty"`
	DY      float64         `json:"dy,omitempty" yaml:"dy,omitempty"`
	Size    *browser.Size   `json:"size,omitempty" yaml:"size,omitempty"`
	Timeout time.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Delay is the pause length for ActionPause and an extra settle delay before
	// element actions.
	Delay time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	Note  string        `json:"note,omitempty" yaml:"note,omitempty"`
}

func (s Step) String() string {
	switch s.Action {
	case ActionClick:
		return fmt.Sprintf("click %s", s.Target)
	case ActionFill:
		return fmt.Sprintf("fill %s with %q", s.Target, s.Value)
	case ActionGoto:
		return fmt.Sprintf("goto %s", s.Value)
	case ActionScroll:
		return fmt.Sprintf("scroll by (%g, %g)", s.DX, s.DY)
	case ActionScrollPage:
		return "scroll one viewport"
	case ActionViewport:
		if s.Size != nil {
			return fmt.Sprintf("viewport %dx%d", s.Size.Width, s.Size.Height)
		}
		return "viewport"
	case ActionPause:
		return fmt.Sprintf("pause %s", s.Delay)
	}
	return string(s.Action)
}

// Assertion expects Text to become visible within Timeout.
type Assertion struct {
	Text    string        `json:"text" yaml:"text"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Scenario is a complete user journey.
type Scenario struct {
	ID              string        `json:"id" yaml:"id"`
	Title           string        `json:"title" yaml:"title"`
	Description     string        `json:"description,omitempty" yaml:"description,omitempty"`
	Tags            []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
	Path            string        `json:"path,omitempty" yaml:"path,omitempty"`
	Viewport        *browser.Size `json:"viewport,omitempty" yaml:"viewport,omitempty"`
	ExpectedOutcome string        `json:"expected_outcome" yaml:"expected_outcome"`
	Steps           []Step        `json:"steps" yaml:"steps"`
	Assertions      []Assertion   `json:"assertions" yaml:"assertions"`
}

// HasTag reports whether the scenario carries tag.
func (s Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate checks the scenario is runnable: element steps have a resolved
// locator and every step kind has the parameters it needs.
func (s Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario has no id")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("scenario %s: no assertions", s.ID)
	}
	for i, st := range s.Steps {
		switch st.Action {
		case ActionClick, ActionFill:
			if st.Locator.IsZero() {
				return fmt.Errorf("scenario %s step %d: %s has no resolved locator", s.ID, i+1, st.Action)
			}
		case ActionGoto:
			if st.Value == "" {
				return fmt.Errorf("scenario %s step %d: goto needs a value", s.ID, i+1)
			}
		case ActionViewport:
			if st.Size == nil || st.Size.Width <= 0 || st.Size.Height <= 0 {
				return fmt.Errorf("scenario %s step %d: viewport needs a positive size", s.ID, i+1)
			}
		case ActionScroll, ActionScrollPage, ActionPause:
		default:
			return fmt.Errorf("scenario %s step %d: unknown action %q", s.ID, i+1, st.Action)
		}
	}
	for i, a := range s.Assertions {
		if a.Text == "" {
			return fmt.Errorf("scenario %s assertion %d: empty text", s.ID, i+1)
		}
	}
	return nil
}
