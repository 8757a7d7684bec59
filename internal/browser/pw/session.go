// Package pw implements the browser interfaces on top of playwright-go.
package pw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

// Launcher starts Playwright-driven Chromium sessions.
type Launcher struct {
	logger      *zap.Logger
	installOnce sync.Once
	installErr  error
}

// NewLauncher creates a Playwright launcher.
func NewLauncher(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger.Named("playwright")}
}

// Session holds the Playwright driver, browser, context and page of one run.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	logger  *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (l *Launcher) install() error {
	l.installOnce.Do(func() {
		l.logger.Info("installing playwright driver and chromium")
		l.installErr = playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	})
	return l.installErr
}

// Launch starts the driver, launches Chromium with opts, opens an isolated
// context with the default timeout and opens a page. On failure every handle
// acquired so far is released before the error is returned.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !opts.SkipInstall {
		if err := l.install(); err != nil {
			return nil, fmt.Errorf("could not install playwright browsers: %w", err)
		}
	}

	s := &Session{logger: l.logger}
	pw, err := playwright.Run()
	if err != nil {
		// The driver may be missing or mismatched; install once more and retry.
		if ierr := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); ierr != nil {
			return nil, fmt.Errorf("could not start playwright: %w", errors.Join(err, ierr))
		}
		pw, err = playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("could not start playwright after retry: %w", err)
		}
	}
	s.pw = pw

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     launchArgs(opts),
	}
	if opts.SlowMo > 0 {
		launch.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	if opts.ExecPath != "" {
		launch.ExecutablePath = playwright.String(opts.ExecPath)
	}
	b, err := pw.Chromium.Launch(launch)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("could not launch browser: %w", err), s.Close())
	}
	s.browser = b

	ctxOpts := playwright.BrowserNewContextOptions{}
	if opts.Viewport != nil {
		ctxOpts.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}
	bc, err := b.NewContext(ctxOpts)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("could not create context: %w", err), s.Close())
	}
	s.context = bc
	if opts.DefaultTimeout > 0 {
		bc.SetDefaultTimeout(float64(opts.DefaultTimeout.Milliseconds()))
	}

	page, err := bc.NewPage()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("could not create page: %w", err), s.Close())
	}
	s.page = page

	l.logger.Debug("session ready", zap.Bool("headless", opts.Headless), zap.Strings("args", launch.Args))
	return s, nil
}

// Page returns the last page opened in the context, which is where a click
// that spawns a new tab leaves the user.
func (s *Session) Page() browser.Page {
	if s.context != nil && !s.closed.Load() {
		if pages := s.context.Pages(); len(pages) > 0 {
			return &Page{page: pages[len(pages)-1]}
		}
	}
	return &Page{page: s.page}
}

// Close releases context, browser and driver in that order. Handles that were
// never acquired are skipped; repeated calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		var errs []error
		if s.context != nil {
			if err := s.context.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close context: %w", err))
			}
		}
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if s.pw != nil {
			if err := s.pw.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop playwright: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func launchArgs(opts browser.LaunchOptions) []string {
	args := append([]string(nil), opts.Args...)
	if opts.Window.Width > 0 && opts.Window.Height > 0 && !browser.HasFlag(args, "window-size") {
		args = append([]string{fmt.Sprintf("--window-size=%d,%d", opts.Window.Width, opts.Window.Height)}, args...)
	}
	return args
}
