// Package browser defines the driver-neutral surface the scenario runner uses to
// control a browser: a Launcher that acquires a Session, and the Page and Frame
// operations a scenario needs. Concrete drivers live in the pw (Playwright) and
// cdp (Chrome DevTools Protocol) subpackages.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout marks a bounded wait or action that ran out of time.
	ErrTimeout = errors.New("browser: timeout")
	// ErrElementNotFound is returned when a locator has no match at the requested index.
	ErrElementNotFound = errors.New("browser: element not found")
	// ErrSessionClosed is returned by page operations once the owning session
	// has been closed.
	ErrSessionClosed = errors.New("browser: session closed")
)

// LoadState is a document lifecycle milestone reported by the browser.
type LoadState string

const (
	LoadStateCommit           LoadState = "commit"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateLoad             LoadState = "load"
)

// ElementState is the condition an element wait resolves on.
type ElementState string

const (
	StateAttached ElementState = "attached"
	StateVisible  ElementState = "visible"
)

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  int `json:"width" yaml:"width" mapstructure:"width"`
	Height int `json:"height" yaml:"height" mapstructure:"height"`
}

// LaunchOptions configures browser start-up and the isolated context a session uses.
type LaunchOptions struct {
	Headless       bool
	Args           []string
	Window         Size
	Viewport       *Size
	DefaultTimeout time.Duration
	SlowMo         time.Duration
	ExecPath       string
	SkipInstall    bool
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Session owns one driver, browser, context and page. Close releases all of them
// and is safe to call more than once.
type Session interface {
	// Page returns the most recently opened page of the session's context.
	Page() Page
	Close() error
}

// Page is the set of page operations scenarios are written against.
type Page interface {
	Goto(ctx context.Context, url string, waitUntil LoadState, timeout time.Duration) error
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
	// Frames returns the sub-frames attached right now, excluding the main
	// document.
	Frames() []Frame

	// Count reports how many elements currently match loc.
	Count(ctx context.Context, loc Locator) (int, error)
	// WaitFor blocks until the first match of loc reaches state or timeout elapses.
	WaitFor(ctx context.Context, loc Locator, state ElementState, timeout time.Duration) error
	Click(ctx context.Context, loc Locator, index int, timeout time.Duration) error
	Fill(ctx context.Context, loc Locator, index int, value string, timeout time.Duration) error

	Scroll(ctx context.Context, dx, dy float64) error
	ViewportHeight(ctx context.Context) (float64, error)
	SetViewport(ctx context.Context, size Size) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL() string
}

// Frame is a sub-document attached to a page.
type Frame interface {
	Name() string
	URL() string
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
}
