package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP dashboard",
	Long: `Serve exposes the catalog, the run history, on-demand runs, an HTML report
and Prometheus metrics over HTTP.

  GET  /healthz
  GET  /api/scenarios
  GET  /api/runs?scenario=TC006&limit=20
  GET  /api/runs/:id
  GET  /api/runs/live   (websocket: run status changes)
  POST /api/runs        {"scenarios": ["TC006"], "tags": ["smoke"]}
  GET  /report
  GET  /metrics`,
	RunE: runServe,
}

var (
	serveAddrFlag         string
	serveWithScheduleFlag bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", "", "Listen address (overrides server.host and server.port)")
	serveCmd.Flags().BoolVar(&serveWithScheduleFlag, "with-schedule", false, "Also run the configured cron schedules")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.cfg
	log := app.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSuite(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer s.Close()

	cat, err := usableCatalog(cfg, log)
	if err != nil {
		return err
	}

	opts := server.Options{
		Catalog:      cat,
		Executor:     s.runner,
		Metrics:      s.recorder.Handler(),
		Target:       s.target,
		Logger:       log.Named("server"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if s.store != nil {
		opts.History = s.store
	}
	if s.pub != nil {
		opts.Feed = s.pub
	}

	if serveWithScheduleFlag && len(cfg.Schedule) > 0 {
		sched, _, err := newScheduler(cfg, s, log)
		if err != nil {
			return err
		}
		if err := sched.Schedule(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	addr := serveAddrFlag
	if addr == "" {
		addr = cfg.Server.GetServerAddr()
	}
	log.Info("starting dashboard", zap.String("addr", addr), zap.String("target", s.target), zap.Int("scenarios", cat.Len()))
	return server.New(opts).ListenAndServe(ctx, addr, cfg.Server.ShutdownTimeout)
}
