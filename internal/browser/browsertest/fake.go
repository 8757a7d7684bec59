// Package browsertest provides scriptable in-memory implementations of the
// browser interfaces for unit tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

// Launcher hands out sessions over a shared Page.
type Launcher struct {
	Page      *Page
	LaunchErr error
	CloseErr  error

	mu       sync.Mutex
	launches []browser.LaunchOptions
	sessions []*Session
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher returns a launcher over a fresh page.
func NewLauncher() *Launcher {
	return &Launcher{Page: NewPage()}
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, opts)
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &Session{page: l.Page, closeErr: l.CloseErr}
	l.sessions = append(l.sessions, s)
	return s, nil
}

// Launches returns the options of every Launch call.
func (l *Launcher) Launches() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.launches...)
}

// Sessions returns every session handed out.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}

// Session counts Close calls.
type Session struct {
	page     *Page
	closeErr error

	mu     sync.Mutex
	closes int
}

func (s *Session) Page() browser.Page { return s.page }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.closeErr
}

// Closes reports how often Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Frame is a static sub-frame that records its load waits.
type Frame struct {
	FrameName string
	FrameURL  string
	LoadErr   error

	mu    sync.Mutex
	calls []string
}

func (f *Frame) Name() string { return f.FrameName }
func (f *Frame) URL() string  { return f.FrameURL }

func (f *Frame) WaitForLoadState(ctx context.Context, state browser.LoadState, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("load %s %s", state, d))
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.LoadErr
}

// Calls returns the recorded load waits in order.
func (f *Frame) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Page answers from scripted state and records every call. Element counts
// are keyed by the locator's String form; text assertions succeed for texts
// marked visible. Navigation and load waits record their timeout.
type Page struct {
	mu sync.Mutex

	elements map[string]int
	visible  map[string]bool
	errs     map[string]error

	GotoErr      error
	LoadStateErr error
	FrameList    []browser.Frame
	Height       float64
	Shot         []byte

	url      string
	viewport browser.Size
	calls    []string
}

var _ browser.Page = (*Page)(nil)

// NewPage returns an empty page with a 720px viewport.
func NewPage() *Page {
	return &Page{
		elements: make(map[string]int),
		visible:  make(map[string]bool),
		errs:     make(map[string]error),
		Height:   720,
		Shot:     []byte("\x89PNG"),
	}
}

// AddElement makes loc match n elements.
func (p *Page) AddElement(loc browser.Locator, n int) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[loc.String()] = n
	return p
}

// Show marks texts as visible.
func (p *Page) Show(texts ...string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range texts {
		p.visible[t] = true
	}
	return p
}

// FailOn makes every action on loc return err.
func (p *Page) FailOn(loc browser.Locator, err error) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[loc.String()] = err
	return p
}

// Calls returns the recorded calls in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Viewport returns the last size set through SetViewport.
func (p *Page) Viewport() browser.Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

func (p *Page) record(format string, args ...interface{}) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func timeout(loc browser.Locator, d time.Duration) error {
	return fmt.Errorf("%w: %s not ready after %s", browser.ErrTimeout, loc, d)
}

func (p *Page) Goto(ctx context.Context, url string, until browser.LoadState, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("goto %s %s %s", url, until, d)
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.GotoErr != nil {
		return p.GotoErr
	}
	p.url = url
	return nil
}

func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("load %s %s", state, d)
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.LoadStateErr
}

func (p *Page) Frames() []browser.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Frame(nil), p.FrameList...)
}

func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.elements[loc.String()], nil
}

func (p *Page) WaitFor(ctx context.Context, loc browser.Locator, state browser.ElementState, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("wait %s %s", loc, state)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.errs[loc.String()]; err != nil {
		return err
	}
	if state == browser.StateVisible && loc.Kind == browser.KindText {
		if p.visible[loc.Value] {
			return nil
		}
		return timeout(loc, d)
	}
	if p.elements[loc.String()] > 0 {
		return nil
	}
	return timeout(loc, d)
}

func (p *Page) act(ctx context.Context, loc browser.Locator, index int, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.errs[loc.String()]; err != nil {
		return err
	}
	if p.elements[loc.String()] <= index {
		return timeout(loc, d)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, loc browser.Locator, index int, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("click %s", loc)
	return p.act(ctx, loc, index, d)
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, index int, value string, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("fill %s %q", loc, value)
	return p.act(ctx, loc, index, d)
}

func (p *Page) Scroll(ctx context.Context, dx, dy float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll %g %g", dx, dy)
	return ctx.Err()
}

func (p *Page) ViewportHeight(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Height, ctx.Err()
}

func (p *Page) SetViewport(ctx context.Context, size browser.Size) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("viewport %dx%d", size.Width, size.Height)
	p.viewport = size
	p.Height = float64(size.Height)
	return ctx.Err()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot")
	return p.Shot, ctx.Err()
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}
