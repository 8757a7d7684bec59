package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
	"github.com/gotrs-io/recipe-e2e/internal/browser/cdp"
	"github.com/gotrs-io/recipe-e2e/internal/browser/pw"
	"github.com/gotrs-io/recipe-e2e/internal/catalog"
	"github.com/gotrs-io/recipe-e2e/internal/config"
	"github.com/gotrs-io/recipe-e2e/internal/locators"
	"github.com/gotrs-io/recipe-e2e/internal/logging"
	"github.com/gotrs-io/recipe-e2e/internal/metrics"
	"github.com/gotrs-io/recipe-e2e/internal/preflight"
	"github.com/gotrs-io/recipe-e2e/internal/publish"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
	"github.com/gotrs-io/recipe-e2e/internal/store"
)

// appContext holds what every command needs after setup.
type appContext struct {
	cfg    *config.Config
	logger *zap.Logger
}

var app *appContext

func setup(cmd *cobra.Command, args []string) error {
	if err := config.Load(configPathFlag); err != nil {
		return err
	}
	cfg := config.Get()

	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	logger, err := logging.New(logging.Options{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	config.SetLogger(logger.Named("config"))
	app = &appContext{cfg: cfg, logger: logger}
	return nil
}

func loadCatalog(cfg *config.Config, extraDirs ...string) (*catalog.Catalog, error) {
	set, err := locators.Load(cfg.Target.LocatorSet, cfg.Target.LocatorFile)
	if err != nil {
		return nil, err
	}
	var dirs []string
	if cfg.Target.ScenarioDir != "" {
		dirs = append(dirs, cfg.Target.ScenarioDir)
	}
	dirs = append(dirs, extraDirs...)
	return catalog.Load(set, dirs...)
}

// usableCatalog loads the catalog and keeps going when only some documents
// are invalid; each rejected document is logged.
func usableCatalog(cfg *config.Config, logger *zap.Logger) (*catalog.Catalog, error) {
	cat, err := loadCatalog(cfg)
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		for _, issue := range verr.Issues {
			logger.Warn("scenario document rejected", zap.String("issue", issue.String()))
		}
		return cat, nil
	}
	return cat, err
}

func newLauncher(driver string, logger *zap.Logger) (browser.Launcher, error) {
	switch strings.ToLower(driver) {
	case "", "playwright":
		return pw.NewLauncher(logger), nil
	case "chromedp":
		return cdp.NewLauncher(logger), nil
	}
	return nil, fmt.Errorf("unknown browser driver %q", driver)
}

// resolveTarget probes the configured origin before any browser is started.
func resolveTarget(ctx context.Context, cfg *config.Config, logger *zap.Logger) (string, error) {
	if !cfg.Target.Preflight {
		return cfg.Target.BaseURL, nil
	}
	return preflight.New(logger.Named("preflight")).Resolve(ctx, cfg.Target.BaseURL, cfg.Target.Autodetect)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	return store.Open(cfg.Store.Driver, cfg.Store.DSN)
}

func openPublisher(ctx context.Context, cfg *config.Config, rec *metrics.Recorder) (*publish.Publisher, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	return publish.NewPublisher(ctx, publish.Config{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Channel:  cfg.Redis.Channel,
		ListKey:  cfg.Redis.ListKey,
		ListSize: cfg.Redis.ListSize,
	}, publish.NewMetrics(rec.Registry()))
}

func runnerOptions(cfg *config.Config, target string) scenario.Options {
	return scenario.Options{
		BaseURL: target,
		Driver:  cfg.Browser.Driver,
		Launch:  cfg.Browser.LaunchOptions(),
		Timeouts: scenario.Timeouts{
			Navigate:    cfg.Timeouts.Navigate,
			LoadSettle:  cfg.Timeouts.LoadSettle,
			Step:        cfg.Timeouts.Step,
			SettleDelay: cfg.Timeouts.SettleDelay,
			Assertion:   cfg.Timeouts.Assertion,
		},
		Settle:         scenario.SettleMode(cfg.Timeouts.Settle),
		Parallel:       cfg.Runner.Parallel,
		ScreenshotsDir: cfg.Report.ScreenshotsDir,
	}
}

// suite is a scenario runner with its result sinks attached.
type suite struct {
	runner   *scenario.Runner
	store    *store.Store
	recorder *metrics.Recorder
	pub      *publish.Publisher
	target   string
}

func (s *suite) Close() {
	if s.pub != nil {
		_ = s.pub.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// newSuite wires a runner for cfg. With strict unset an unreachable target is
// logged instead of returned, for long-running commands that outlive a dev
// server restart.
func newSuite(ctx context.Context, cfg *config.Config, logger *zap.Logger, strict bool) (*suite, error) {
	target, err := resolveTarget(ctx, cfg, logger)
	if err != nil {
		if strict {
			return nil, err
		}
		logger.Warn("target did not answer the preflight check", zap.Error(err))
		target = cfg.Target.BaseURL
	}
	launcher, err := newLauncher(cfg.Browser.Driver, logger)
	if err != nil {
		return nil, err
	}

	s := &suite{recorder: metrics.NewRecorder(), target: target}
	if s.store, err = openStore(cfg); err != nil {
		return nil, err
	}
	if s.pub, err = openPublisher(ctx, cfg, s.recorder); err != nil {
		s.Close()
		return nil, err
	}

	observers := []scenario.Observer{s.recorder}
	if s.store != nil {
		observers = append(observers, s.store)
	}
	if s.pub != nil {
		observers = append(observers, s.pub)
	}
	s.runner = scenario.NewRunner(launcher, runnerOptions(cfg, target), logger.Named("runner"), observers...)
	return s, nil
}
