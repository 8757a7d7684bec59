package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/report"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

var runCmd = &cobra.Command{
	Use:   "run [scenario-id...]",
	Short: "Run scenarios once against the target app",
	Long: `Run executes the selected scenarios, each in its own browser session, and
prints a report. With no ids and no --tag every scenario in the catalog runs.

The exit code is 1 when any scenario failed or errored.`,
	Example: `  recipe-e2e run TC006
  recipe-e2e run --tag smoke --parallel 2 --format junit --out results.xml`,
	RunE: runScenarios,
}

var (
	runTagsFlag     []string
	runParallelFlag int
	runDriverFlag   string
	runFormatFlag   string
	runOutFlag      string
	runTimeoutFlag  time.Duration
)

func init() {
	runCmd.Flags().StringSliceVarP(&runTagsFlag, "tag", "t", nil, "Only run scenarios carrying one of these tags")
	runCmd.Flags().IntVarP(&runParallelFlag, "parallel", "p", 0, "Concurrent browser sessions (overrides runner.parallel)")
	runCmd.Flags().StringVar(&runDriverFlag, "driver", "", "Browser driver: playwright or chromedp (overrides browser.driver)")
	runCmd.Flags().StringVarP(&runFormatFlag, "format", "f", "", "Report format: "+fmt.Sprint(report.Formats()))
	runCmd.Flags().StringVarP(&runOutFlag, "out", "o", "", "Write the report to this file instead of stdout")
	runCmd.Flags().DurationVar(&runTimeoutFlag, "timeout", 0, "Abort the whole run after this long")

	rootCmd.AddCommand(runCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	cfg := *app.cfg
	if runParallelFlag > 0 {
		cfg.Runner.Parallel = runParallelFlag
	}
	if runDriverFlag != "" {
		cfg.Browser.Driver = runDriverFlag
	}
	if runFormatFlag != "" {
		cfg.Report.Format = runFormatFlag
	}
	if runOutFlag != "" {
		cfg.Report.Output = runOutFlag
	}
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeoutFlag)
		defer cancel()
	}

	log := app.logger
	cat, err := usableCatalog(&cfg, log)
	if err != nil {
		return err
	}
	selected, err := cat.Filter(args, runTagsFlag)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return fmt.Errorf("no scenarios match the selection")
	}

	s, err := newSuite(ctx, &cfg, log, true)
	if err != nil {
		return err
	}
	defer s.Close()

	log.Info("running scenarios",
		zap.Int("count", len(selected)),
		zap.String("target", s.target),
		zap.String("driver", cfg.Browser.Driver),
		zap.Int("parallel", cfg.Runner.Parallel))

	results := s.runner.RunAll(ctx, selected)
	rep := report.New("", s.target, results, time.Now())

	if err := report.WriteFile(cfg.Report.Output, format, rep); err != nil {
		return err
	}
	// keep a readable summary on the terminal when the report goes to a file
	if cfg.Report.Output != "" && cfg.Report.Output != "-" && format != report.FormatConsole {
		if err := report.Write(cmd.OutOrStdout(), report.FormatConsole, rep); err != nil {
			return err
		}
	}

	if sum := scenario.Summarize(results); !sum.OK() {
		return fmt.Errorf("%d of %d: %w", sum.Failed+sum.Errors, sum.Total, errNotPassed)
	}
	return nil
}
