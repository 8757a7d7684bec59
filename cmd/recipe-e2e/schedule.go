package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/config"
	"github.com/gotrs-io/recipe-e2e/internal/runner"
	"github.com/gotrs-io/recipe-e2e/internal/runner/tasks"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the configured cron schedules until interrupted",
	Long: `Schedule registers one task per entry of the schedule section plus the
daily history retention task, then runs them until SIGINT or SIGTERM.

  schedule:
    - name: nightly-smoke
      spec: "0 2 * * *"
      tags: [smoke]`,
	RunE: runSchedule,
}

var (
	scheduleRunNowFlag string
	scheduleListFlag   bool
)

func init() {
	scheduleCmd.Flags().StringVar(&scheduleRunNowFlag, "run-now", "", "Run the named task once and exit")
	scheduleCmd.Flags().BoolVar(&scheduleListFlag, "list", false, "Print registered tasks with their next run and exit")

	rootCmd.AddCommand(scheduleCmd)
}

// newScheduler registers every configured task against s.
func newScheduler(cfg *config.Config, s *suite, logger *zap.Logger) (*runner.Runner, *runner.TaskRegistry, error) {
	cat, err := usableCatalog(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	reg := runner.NewTaskRegistry()
	if err := tasks.Register(reg, cfg.Schedule, cat, s.runner, logger); err != nil {
		return nil, nil, err
	}
	if s.store != nil && cfg.Store.Retention > 0 {
		if err := reg.Register(tasks.NewHistoryRetentionTask(s.store, cfg.Store.Retention, logger)); err != nil {
			return nil, nil, err
		}
	}
	return runner.NewRunner(reg, logger.Named("scheduler")), reg, nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg := app.cfg
	log := app.logger
	if len(cfg.Schedule) == 0 && scheduleRunNowFlag == "" {
		return fmt.Errorf("no schedule entries configured")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := newSuite(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer s.Close()

	sched, reg, err := newScheduler(cfg, s, log)
	if err != nil {
		return err
	}

	if scheduleRunNowFlag != "" {
		return sched.RunNow(ctx, scheduleRunNowFlag)
	}
	if scheduleListFlag {
		if err := sched.Schedule(ctx); err != nil {
			return err
		}
		defer sched.Stop()
		for _, name := range reg.Names() {
			task, _ := reg.Get(name)
			next, _ := sched.Next(name)
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-16s next %s\n", name, task.Schedule(), next.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	config.OnChange(func(*config.Config) {
		log.Info("configuration changed; schedule changes apply after restart")
	})
	return sched.Start(ctx)
}
