package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

// SettleMode selects how a step waits before acting on an element.
type SettleMode string

const (
	// SettlePoll waits until the locator resolves, bounded by the step timeout.
	SettlePoll SettleMode = "poll"
	// SettleFixed sleeps Timeouts.SettleDelay before acting.
	SettleFixed SettleMode = "fixed"
)

// Timeouts bounds every wait a run performs.
type Timeouts struct {
	Navigate    time.Duration
	LoadSettle  time.Duration
	Step        time.Duration
	SettleDelay time.Duration
	Assertion   time.Duration
}

// DefaultTimeouts returns the bounds the suite was tuned with.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigate:    10 * time.Second,
		LoadSettle:  3 * time.Second,
		Step:        5 * time.Second,
		SettleDelay: 3 * time.Second,
		Assertion:   5 * time.Second,
	}
}

// Options configures a Runner.
type Options struct {
	BaseURL        string
	Driver         string
	Launch         browser.LaunchOptions
	Timeouts       Timeouts
	Settle         SettleMode
	Parallel       int
	ScreenshotsDir string
}

// Observer receives every finished result. Observer errors are logged and never
// change the outcome of a run.
type Observer interface {
	Observe(ctx context.Context, res *Result) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res *Result) error

func (f ObserverFunc) Observe(ctx context.Context, res *Result) error { return f(ctx, res) }

// Runner executes scenarios, one browser session per run.
type Runner struct {
	launcher  browser.Launcher
	opts      Options
	logger    *zap.Logger
	observers []Observer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewRunner creates a runner. Zero timeouts fall back to DefaultTimeouts.
func NewRunner(launcher browser.Launcher, opts Options, logger *zap.Logger, observers ...Observer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultTimeouts()
	t := &opts.Timeouts
	if t.Navigate <= 0 {
		t.Navigate = def.Navigate
	}
	if t.LoadSettle <= 0 {
		t.LoadSettle = def.LoadSettle
	}
	if t.Step <= 0 {
		t.Step = def.Step
	}
	if t.SettleDelay < 0 {
		t.SettleDelay = 0
	}
	if t.Assertion <= 0 {
		t.Assertion = def.Assertion
	}
	if opts.Settle == "" {
		opts.Settle = SettlePoll
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	return &Runner{
		launcher:  launcher,
		opts:      opts,
		logger:    logger,
		observers: observers,
		now:       time.Now,
		sleep:     sleepCtx,
		newID:     func() string { return uuid.NewString() },
	}
}

// Options returns the effective runner options.
func (r *Runner) Options() Options { return r.opts }

// AddObserver registers o for subsequent runs.
func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll runs scenarios with at most Options.Parallel sessions at a time and
// returns results in input order.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) []*Result {
	results := make([]*Result, len(scenarios))
	var g errgroup.Group
	g.SetLimit(r.opts.Parallel)
	for i, sc := range scenarios {
		g.Go(func() error {
			results[i] = r.Run(ctx, sc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Run executes sc in a fresh session. The session is closed exactly once on
// every path, and the result is handed to observers after teardown.
func (r *Runner) Run(ctx context.Context, sc Scenario) *Result {
	return r.RunWithID(ctx, r.newID(), sc)
}

// NewRunID returns an id suitable for RunWithID.
func (r *Runner) NewRunID() string { return r.newID() }

// RunWithID is Run with a caller-chosen run id.
func (r *Runner) RunWithID(ctx context.Context, runID string, sc Scenario) *Result {
	res := &Result{
		RunID:      runID,
		ScenarioID: sc.ID,
		Title:      sc.Title,
		Phase:      PhaseBootstrap,
		TargetURL:  r.url(sc.Path),
		Driver:     r.opts.Driver,
		StartedAt:  r.now(),
	}
	log := r.logger.With(zap.String("scenario", sc.ID), zap.String("run_id", res.RunID))
	log.Info("scenario started", zap.String("title", sc.Title), zap.String("url", res.TargetURL))

	r.execute(ctx, sc, res, log)

	res.FinishedAt = r.now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	if res.Err == nil {
		res.Status = StatusPassed
		res.Phase = PhaseDone
		log.Info("scenario passed", zap.Duration("duration", res.Duration))
	} else {
		log.Warn("scenario did not pass",
			zap.String("status", string(res.Status)),
			zap.String("phase", string(res.Phase)),
			zap.Duration("duration", res.Duration),
			zap.Error(res.Err))
	}
	for _, o := range r.observers {
		if err := o.Observe(ctx, res); err != nil {
			log.Warn("result observer failed", zap.Error(err))
		}
	}
	return res
}

func (r *Runner) execute(ctx context.Context, sc Scenario, res *Result, log *zap.Logger) {
	if err := sc.Validate(); err != nil {
		res.fail(PhaseBootstrap, &BootstrapError{Err: err})
		return
	}
	launch := r.opts.Launch
	if sc.Viewport != nil {
		launch.Viewport = sc.Viewport
	}
	sess, err := r.launcher.Launch(ctx, launch)
	if err != nil {
		res.fail(PhaseBootstrap, &BootstrapError{Err: err})
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			res.TeardownError = err.Error()
			log.Warn("teardown failed", zap.Error(err))
		}
	}()

	res.Phase = PhaseNavigate
	if err := r.navigate(ctx, sess.Page(), res.TargetURL, log); err != nil {
		res.fail(PhaseNavigate, err)
		r.capture(ctx, sess.Page(), res, log)
		return
	}

	res.Phase = PhaseSteps
	for i, st := range sc.Steps {
		start := r.now()
		err := r.step(ctx, sess.Page(), st, log)
		sr := StepResult{Index: i, Action: st.Action, Target: st.Target, Passed: err == nil, Duration: r.now().Sub(start)}
		if err != nil {
			sr.Error = err.Error()
		}
		res.Steps = append(res.Steps, sr)
		if err != nil {
			if ctx.Err() != nil && err == ctx.Err() {
				res.fail(PhaseSteps, err)
			} else {
				res.fail(PhaseSteps, &StepError{Index: i, Step: st, Err: err})
			}
			r.capture(ctx, sess.Page(), res, log)
			return
		}
	}

	res.Phase = PhaseAssert
	for _, a := range sc.Assertions {
		if err := ctx.Err(); err != nil {
			res.fail(PhaseAssert, err)
			return
		}
		timeout := a.Timeout
		if timeout <= 0 {
			timeout = r.opts.Timeouts.Assertion
		}
		start := r.now()
		err := sess.Page().WaitFor(ctx, browser.Text(a.Text), browser.StateVisible, timeout)
		res.Assertions = append(res.Assertions, AssertionResult{Text: a.Text, Visible: err == nil, Duration: r.now().Sub(start)})
		if err != nil {
			log.Warn("assertion failed", zap.String("text", a.Text), zap.Duration("timeout", timeout), zap.NamedError("cause", err))
			res.fail(PhaseAssert, &AssertionError{
				Scenario: sc.ID,
				Outcome:  sc.ExpectedOutcome,
				Text:     a.Text,
				Timeout:  timeout,
				Cause:    err,
			})
			r.capture(ctx, sess.Page(), res, log)
			return
		}
	}
}

func (r *Runner) url(path string) string {
	base := strings.TrimRight(r.opts.BaseURL, "/")
	if path == "" || path == "/" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// navigate returns once url has committed, then gives the document and every
// attached frame a bounded chance to reach DOMContentLoaded.
func (r *Runner) navigate(ctx context.Context, page browser.Page, url string, log *zap.Logger) error {
	if err := page.Goto(ctx, url, browser.LoadStateCommit, r.opts.Timeouts.Navigate); err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	r.settleLoad(ctx, page, log)
	return nil
}

// settleLoad is best effort: timeouts are logged and ignored.
func (r *Runner) settleLoad(ctx context.Context, page browser.Page, log *zap.Logger) {
	t := r.opts.Timeouts.LoadSettle
	if err := page.WaitForLoadState(ctx, browser.LoadStateDOMContentLoaded, t); err != nil {
		log.Debug("document did not reach domcontentloaded", zap.Duration("timeout", t), zap.Error(err))
	}
	for _, f := range page.Frames() {
		if err := f.WaitForLoadState(ctx, browser.LoadStateDOMContentLoaded, t); err != nil {
			log.Debug("frame did not reach domcontentloaded", zap.String("frame", f.Name()), zap.String("url", f.URL()), zap.Error(err))
		}
	}
}

func (r *Runner) step(ctx context.Context, page browser.Page, st Step, log *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := st.Timeout
	if timeout <= 0 {
		timeout = r.opts.Timeouts.Step
	}
	log.Debug("step", zap.String("action", string(st.Action)), zap.String("target", st.Target), zap.String("note", st.Note))

	switch st.Action {
	case ActionClick, ActionFill:
		if err := r.ready(ctx, page, st, timeout); err != nil {
			return err
		}
		if err := browser.SelectNth(ctx, page, st.Locator, 0); err != nil {
			return err
		}
		if st.Action == ActionClick {
			return page.Click(ctx, st.Locator, 0, timeout)
		}
		return page.Fill(ctx, st.Locator, 0, st.Value, timeout)
	case ActionGoto:
		nav := st.Timeout
		if nav <= 0 {
			nav = r.opts.Timeouts.Navigate
		}
		if err := page.Goto(ctx, r.url(st.Value), browser.LoadStateLoad, nav); err != nil {
			return err
		}
		r.settleLoad(ctx, page, log)
		return nil
	case ActionScroll:
		return page.Scroll(ctx, st.DX, st.DY)
	case ActionScrollPage:
		h, err := page.ViewportHeight(ctx)
		if err != nil {
			return err
		}
		return page.Scroll(ctx, 0, h)
	case ActionViewport:
		return page.SetViewport(ctx, *st.Size)
	case ActionPause:
		return r.sleep(ctx, st.Delay)
	}
	return fmt.Errorf("unknown action %q", st.Action)
}

// ready waits until the step's element can be acted on.
func (r *Runner) ready(ctx context.Context, page browser.Page, st Step, timeout time.Duration) error {
	if st.Delay > 0 {
		if err := r.sleep(ctx, st.Delay); err != nil {
			return err
		}
	}
	if r.opts.Settle == SettleFixed {
		return r.sleep(ctx, r.opts.Timeouts.SettleDelay)
	}
	return page.WaitFor(ctx, st.Locator, browser.StateAttached, timeout)
}

// capture stores a screenshot of the failing page when a directory is configured.
func (r *Runner) capture(ctx context.Context, page browser.Page, res *Result, log *zap.Logger) {
	if r.opts.ScreenshotsDir == "" || ctx.Err() != nil {
		return
	}
	buf, err := page.Screenshot(ctx)
	if err != nil {
		log.Debug("screenshot failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(r.opts.ScreenshotsDir, 0o755); err != nil {
		log.Debug("screenshot dir", zap.Error(err))
		return
	}
	name := filepath.Join(r.opts.ScreenshotsDir, fmt.Sprintf("%s_%s.png", res.ScenarioID, res.RunID))
	if err := os.WriteFile(name, buf, 0o644); err != nil {
		log.Debug("screenshot write", zap.Error(err))
		return
	}
	res.Screenshot = name
	log.Info("saved failure screenshot", zap.String("path", name))
}
