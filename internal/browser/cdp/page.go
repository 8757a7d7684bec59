package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

// resolveJS returns a function expression mapping (kind, value) to the list of
// matching elements. Text matching mirrors Playwright's unquoted text= engine:
// case-insensitive substring over whitespace-normalised text nodes.
const resolveJS = `(function(kind, value) {
	if (kind === 'xpath') {
		const r = document.evaluate(value, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
		return out;
	}
	if (kind === 'text') {
		const needle = value.replace(/\s+/g, ' ').trim().toLowerCase();
		const out = [];
		if (!document.body) return out;
		const w = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
		while (w.nextNode()) {
			const n = w.currentNode;
			const el = n.parentElement;
			if (!el || out.includes(el)) continue;
			if ((el.innerText || n.nodeValue || '').replace(/\s+/g, ' ').toLowerCase().includes(needle)) out.push(el);
		}
		return out;
	}
	return Array.from(document.querySelectorAll(value));
})`

const visibleJS = `(function(el) {
	if (!el || !el.isConnected) return false;
	const style = window.getComputedStyle(el);
	const rect = el.getBoundingClientRect();
	return style.visibility !== 'hidden' && style.display !== 'none' && rect.width > 0 && rect.height > 0;
})`

// Page drives the session's single tab.
type Page struct {
	tabCtx         context.Context
	defaultTimeout time.Duration
}

var _ browser.Page = (*Page)(nil)

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func locatorCall(loc browser.Locator) string {
	return fmt.Sprintf("%s(%s, %s)", resolveJS, jsString(string(loc.Kind)), jsString(loc.Value))
}

// run executes actions on the tab bounded by both ctx and timeout. A deadline
// coming from timeout is reported as browser.ErrTimeout; a tab already torn
// down by Session.Close as browser.ErrSessionClosed.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if p.tabCtx.Err() != nil {
		return browser.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %s: %w", browser.ErrTimeout, timeout, err)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) Goto(ctx context.Context, url string, _ browser.LoadState, timeout time.Duration) error {
	// chromedp.Navigate returns on the load event; the commit-only contract is
	// satisfied because load implies commit.
	return p.run(ctx, timeout, chromedp.Navigate(url))
}

func (p *Page) WaitForLoadState(ctx context.Context, state browser.LoadState, timeout time.Duration) error {
	expr := `document.readyState !== 'loading'`
	if state == browser.LoadStateLoad {
		expr = `document.readyState === 'complete'`
	}
	return p.run(ctx, timeout, chromedp.Poll(expr, nil, chromedp.WithPollingInterval(pollInterval)))
}

// Frames reports no sub-frames: chromedp drives the tab's main document only,
// and WaitForLoadState covers it.
func (p *Page) Frames() []browser.Frame {
	return nil
}

func (p *Page) Count(ctx context.Context, loc browser.Locator) (int, error) {
	var n int
	err := p.run(ctx, p.defaultTimeout, chromedp.Evaluate(locatorCall(loc)+".length", &n))
	return n, err
}

func (p *Page) WaitFor(ctx context.Context, loc browser.Locator, state browser.ElementState, timeout time.Duration) error {
	expr := locatorCall(loc) + ".length > 0"
	if state == browser.StateVisible {
		expr = fmt.Sprintf("%s(%s[0])", visibleJS, locatorCall(loc))
	}
	return p.run(ctx, timeout, chromedp.Poll(expr, nil, chromedp.WithPollingInterval(pollInterval)))
}

func (p *Page) Click(ctx context.Context, loc browser.Locator, index int, timeout time.Duration) error {
	expr := fmt.Sprintf(`(function() {
		const el = %s[%d];
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.click();
		return true;
	})()`, locatorCall(loc), index)
	return p.act(ctx, loc, index, timeout, expr)
}

func (p *Page) Fill(ctx context.Context, loc browser.Locator, index int, value string, timeout time.Duration) error {
	expr := fmt.Sprintf(`(function() {
		const el = %s[%d];
		if (!el) return false;
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, locatorCall(loc), index, jsString(value))
	return p.act(ctx, loc, index, timeout, expr)
}

func (p *Page) act(ctx context.Context, loc browser.Locator, index int, timeout time.Duration, expr string) error {
	var ok bool
	if err := p.run(ctx, timeout, chromedp.Evaluate(expr, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s (index %d)", browser.ErrElementNotFound, loc, index)
	}
	return nil
}

func (p *Page) Scroll(ctx context.Context, dx, dy float64) error {
	return p.run(ctx, p.defaultTimeout, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(%f, %f)", dx, dy), nil))
}

func (p *Page) ViewportHeight(ctx context.Context) (float64, error) {
	var h float64
	err := p.run(ctx, p.defaultTimeout, chromedp.Evaluate(`window.innerHeight`, &h))
	return h, err
}

func (p *Page) SetViewport(ctx context.Context, size browser.Size) error {
	return p.run(ctx, p.defaultTimeout, chromedp.EmulateViewport(int64(size.Width), int64(size.Height)))
}

// Screenshot captures the visible viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, 2*p.defaultTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = cdppage.CaptureScreenshot().WithFormat(cdppage.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	return buf, err
}

func (p *Page) URL() string {
	var url string
	ctx, cancel := context.WithTimeout(p.tabCtx, p.defaultTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Location(&url)); err != nil {
		return ""
	}
	return url
}
