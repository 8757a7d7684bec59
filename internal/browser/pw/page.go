package pw

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

// Page adapts a playwright.Page to browser.Page. Playwright calls are not
// context aware, so each call checks ctx first and relies on its own timeout.
// Once the owning session is closed every call fails with
// browser.ErrSessionClosed.
type Page struct {
	page   playwright.Page
	closed *atomic.Bool
}

var _ browser.Page = (*Page)(nil)

// Selector renders loc in Playwright selector syntax.
func Selector(loc browser.Locator) string {
	switch loc.Kind {
	case browser.KindXPath:
		return "xpath=" + loc.Value
	case browser.KindText:
		return "text=" + loc.Value
	default:
		return loc.Value
	}
}

func check(ctx context.Context, closed *atomic.Bool) error {
	if closed != nil && closed.Load() {
		return browser.ErrSessionClosed
	}
	return ctx.Err()
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

// wrap tags Playwright timeouts with browser.ErrTimeout while keeping the
// original error in the chain.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", browser.ErrTimeout, err)
	}
	return err
}

func loadState(s browser.LoadState) *playwright.LoadState {
	switch s {
	case browser.LoadStateLoad:
		return playwright.LoadStateLoad
	default:
		return playwright.LoadStateDomcontentloaded
	}
}

func waitUntil(s browser.LoadState) *playwright.WaitUntilState {
	switch s {
	case browser.LoadStateCommit:
		return playwright.WaitUntilStateCommit
	case browser.LoadStateDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	default:
		return playwright.WaitUntilStateLoad
	}
}

func (p *Page) Goto(ctx context.Context, url string, until browser.LoadState, timeout time.Duration) error {
	if err := check(ctx, p.closed); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil(until),
		Timeout:   ms(timeout),
	})
	return wrap(err)
}

func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	if err := check(ctx, p.closed); err != nil {
		return err
	}
	return wrap(p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   loadState(state),
		Timeout: ms(timeout),
	}))
}

// Frames returns the sub-frames of the page; the main frame is covered by
// WaitForLoadState on the page itself.
func (p *Page) Frames() []browser.Frame {
	if p.closed != nil && p.closed.Load() {
		return nil
	}
	main := p.page.MainFrame()
	frames := p.page.Frames()
	out := make([]browser.Frame, 0, len(frames))
	for _, f := range frames {
		if f == main {
			continue
		}
		out = append(out, &Frame{frame: f, closed: p.closed})
	}
	return out
}

func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	if err := check(ctx, p.closed); err != nil {
		return 0, err
	}
	n, err := p.page.Locator(Selector(loc)).Count()
	return n, wrap(err)
}

func (p *Page) WaitFor(ctx context.Context, loc browser.Locator, state browser.ElementState, timeout time.Duration) error {
	if err := check(ctx, p.closed); err != nil {
		return err
	}
	ws := playwright.WaitForSelectorStateAttached
	if state == browser.StateVisible {
		ws = playwright.WaitForSelectorStateVisible
	}
	return wrap(p.page.Locator(Selector(loc)).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   ws,
		Timeout: ms(timeout),
	}))
}

func (p *Page) Click(ctx context.Context, loc browser.Locator, index int, timeout time.Duration) error {
	if err := check(ctx, p.closed); err != nil {
		return err
	}
	return wrap(p.page.Locator(Selector(loc)).Nth(index).Click(playwright.LocatorClickOptions{
		Timeout: ms(timeout),
	}))
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, index int, value string, timeout time.Duration) error {
	if err := check(ctx, p.closed); err != nil {
		return err
	}
	return wrap(p.page.Locator(Selector(loc)).Nth(index).Fill(value, playwright.LocatorFillOptions{
		Timeout: ms(timeout),
	}))
}

func (p *Page) Scroll(ctx context.Context, dx, dy float64) error {
	if err := check(ctx, p.closed); err != nil {
		return err
	}
	return p.page.Mouse().Wheel(dx, dy)
}

func (p *Page) ViewportHeight(ctx context.Context) (float64, error) {
	if err := check(ctx, p.closed); err != nil {
		return 0, err
	}
	v, err := p.page.Evaluate(`() => window.innerHeight`)
	if err != nil {
		return 0, err
	}
	switch h := v.(type) {
	case int:
		return float64(h), nil
	case float64:
		return h, nil
	default:
		return 0, fmt.Errorf("unexpected innerHeight value %T", v)
	}
}

func (p *Page) SetViewport(ctx context.Context, size browser.Size) error {
	if err := check(ctx, p.closed); err != nil {
		return err
	}
	return p.page.SetViewportSize(size.Width, size.Height)
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := check(ctx, p.closed); err != nil {
		return nil, err
	}
	return p.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
}

func (p *Page) URL() string { return p.page.URL() }

// Frame adapts a playwright.Frame.
type Frame struct {
	frame  playwright.Frame
	closed *atomic.Bool
}

func (f *Frame) Name() string { return f.frame.Name() }

func (f *Frame) URL() string { return f.frame.URL() }

func (f *Frame) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	if err := check(ctx, f.closed); err != nil {
		return err
	}
	return wrap(f.frame.WaitForLoadState(playwright.FrameWaitForLoadStateOptions{
		State:   loadState(state),
		Timeout: ms(timeout),
	}))
}
