package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errNotPassed is returned when at least one scenario failed or errored.
var errNotPassed = errors.New("scenarios did not pass")

var rootCmd = &cobra.Command{
	Use:   "recipe-e2e",
	Short: "End-to-end browser suite for the Smart Recipe Recommender",
	Long: `recipe-e2e drives a real browser through the Smart Recipe Recommender UI.

Each scenario opens a fresh browser session, navigates to the app, performs
its interaction steps and checks that the expected texts become visible.
Scenarios can be run once, on a cron schedule, or from the HTTP dashboard.`,
	Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var (
	configPathFlag string
	logLevelFlag   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPathFlag, "config", "c", "", "Config file or directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// version works without a readable config
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "recipe-e2e %s\n", rootCmd.Version)
	},
}

func main() {
	err := rootCmd.Execute()
	if app != nil {
		_ = app.logger.Sync()
	}
	if err == nil {
		return
	}
	if !errors.Is(err, errNotPassed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
