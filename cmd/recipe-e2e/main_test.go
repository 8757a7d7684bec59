package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/browser/cdp"
	"github.com/gotrs-io/recipe-e2e/internal/browser/pw"
	"github.com/gotrs-io/recipe-e2e/internal/config"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

func TestNewLauncher(t *testing.T) {
	l, err := newLauncher("playwright", nil)
	require.NoError(t, err)
	assert.IsType(t, &pw.Launcher{}, l)

	l, err = newLauncher("ChromeDP", nil)
	require.NoError(t, err)
	assert.IsType(t, &cdp.Launcher{}, l)

	_, err = newLauncher("webkit-gtk", nil)
	assert.Error(t, err)
}

func TestRunnerOptions(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Runner.Parallel = 3
	cfg.Report.ScreenshotsDir = "shots"

	opts := runnerOptions(cfg, "http://127.0.0.1:4000")
	assert.Equal(t, "http://127.0.0.1:4000", opts.BaseURL)
	assert.Equal(t, "playwright", opts.Driver)
	assert.Equal(t, scenario.SettlePoll, opts.Settle)
	assert.Equal(t, 3, opts.Parallel)
	assert.Equal(t, "shots", opts.ScreenshotsDir)
	assert.Equal(t, 10*time.Second, opts.Timeouts.Navigate)
	assert.Equal(t, 3*time.Second, opts.Timeouts.LoadSettle)
	assert.True(t, opts.Launch.Headless)
	assert.Equal(t, 1280, opts.Launch.Window.Width)
}

func TestResolveTargetWithoutPreflight(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Target.Preflight = false
	cfg.Target.BaseURL = "http://127.0.0.1:1"

	got, err := resolveTarget(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1", got)
}

func TestDisabledSinks(t *testing.T) {
	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Store.Enabled = false

	st, err := openStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, st)

	pub, err := openPublisher(t.Context(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, pub)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "recipe-e2e dev")
}
