// Package cdp implements the browser interfaces on top of chromedp, driving
// Chrome directly over the DevTools protocol without the Playwright driver.
package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

const pollInterval = 100 * time.Millisecond

// Launcher starts chromedp sessions.
type Launcher struct {
	logger *zap.Logger
}

// NewLauncher creates a chromedp launcher.
func NewLauncher(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger.Named("chromedp")}
}

// Session is one Chrome process (allocator) with one tab (browser context).
type Session struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	page        *Page
	logger      *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func allocatorOptions(opts browser.LaunchOptions) []chromedp.ExecAllocatorOption {
	options := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	options = append(options, chromedp.Flag("headless", opts.Headless))
	if opts.Window.Width > 0 && opts.Window.Height > 0 {
		options = append(options, chromedp.WindowSize(opts.Window.Width, opts.Window.Height))
	}
	if opts.ExecPath != "" {
		options = append(options, chromedp.ExecPath(opts.ExecPath))
	}
	for _, a := range opts.Args {
		name, value := browser.SplitFlag(a)
		if name == "" || name == "window-size" {
			continue
		}
		if value == "" {
			options = append(options, chromedp.Flag(name, true))
		} else {
			options = append(options, chromedp.Flag(name, value))
		}
	}
	// Containers need this to launch Chrome at all.
	options = append(options, chromedp.NoSandbox)
	return options
}

// Launch starts Chrome and opens a tab. The browser process is bound to the
// session, not to ctx, so it outlives the launch call until Close.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)
	s := &Session{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      l.logger,
	}

	chromedp.ListenTarget(tabCtx, consoleListener(l.logger))

	// The first Run starts the browser; it must not carry a deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}
	if opts.Viewport != nil {
		if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(opts.Viewport.Width), int64(opts.Viewport.Height))); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("could not set viewport: %w", err)
		}
	}
	defaultTimeout := opts.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	s.page = &Page{tabCtx: tabCtx, defaultTimeout: defaultTimeout}
	l.logger.Debug("session ready", zap.Bool("headless", opts.Headless))
	return s, nil
}

// consoleListener forwards the page's console errors and uncaught exceptions
// to the session log.
func consoleListener(logger *zap.Logger) func(ev any) {
	return func(ev any) {
		switch ev := ev.(type) {
		case *cdpruntime.EventConsoleAPICalled:
			if ev.Type != cdpruntime.APITypeError && ev.Type != cdpruntime.APITypeWarning {
				return
			}
			args := make([]string, 0, len(ev.Args))
			for _, arg := range ev.Args {
				if len(arg.Value) > 0 {
					args = append(args, string(arg.Value))
				} else if arg.Description != "" {
					args = append(args, arg.Description)
				}
			}
			logger.Debug("browser console", zap.String("type", ev.Type.String()), zap.Strings("args", args))
		case *cdpruntime.EventExceptionThrown:
			logger.Debug("uncaught page exception", zap.String("error", ev.ExceptionDetails.Error()))
		}
	}
}

func (s *Session) Page() browser.Page { return s.page }

// Close shuts the tab down gracefully, then kills the allocator.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.tabCtx != nil {
			if err := chromedp.Cancel(s.tabCtx); err != nil && err != context.Canceled {
				s.closeErr = fmt.Errorf("close browser: %w", err)
			}
		}
		if s.cancelTab != nil {
			s.cancelTab()
		}
		if s.cancelAlloc != nil {
			s.cancelAlloc()
		}
	})
	return s.closeErr
}
