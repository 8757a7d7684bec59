package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/recipe-e2e/internal/report"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
	"github.com/gotrs-io/recipe-e2e/internal/store"
)

var errNoStore = errors.New("run history is disabled (store.enabled is false)")

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past runs from the history store",
	RunE:  showHistory,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export stored runs as a report",
	Example: `  recipe-e2e report --format html --out report.html
  recipe-e2e report --format xlsx --since 168h --out week.xlsx`,
	RunE: exportReport,
}

var (
	historyLimitFlag    int
	historyScenarioFlag string
	historyStatusFlag   string
	historySinceFlag    time.Duration

	reportFormatFlag string
	reportOutFlag    string
)

func init() {
	for _, c := range []*cobra.Command{historyCmd, reportCmd} {
		c.Flags().IntVarP(&historyLimitFlag, "limit", "n", 20, "Maximum number of runs")
		c.Flags().StringVarP(&historyScenarioFlag, "scenario", "s", "", "Only runs of this scenario id")
		c.Flags().StringVar(&historyStatusFlag, "status", "", "Only runs with this status (passed, failed, error)")
		c.Flags().DurationVar(&historySinceFlag, "since", 0, "Only runs started within this window")
	}
	reportCmd.Flags().StringVarP(&reportFormatFlag, "format", "f", "html", "Report format: "+fmt.Sprint(report.Formats()))
	reportCmd.Flags().StringVarP(&reportOutFlag, "out", "o", "", "Write the report to this file instead of stdout")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(reportCmd)
}

func historyQuery() store.Query {
	q := store.Query{
		ScenarioID: historyScenarioFlag,
		Status:     scenario.Status(historyStatusFlag),
		Limit:      historyLimitFlag,
	}
	if historySinceFlag > 0 {
		q.Since = time.Now().Add(-historySinceFlag)
	}
	return q
}

func storedRuns(cmd *cobra.Command) ([]*scenario.Result, error) {
	st, err := openStore(app.cfg)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errNoStore
	}
	defer st.Close()
	return st.List(cmd.Context(), historyQuery())
}

func showHistory(cmd *cobra.Command, args []string) error {
	runs, err := storedRuns(cmd)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSCENARIO\tSTATUS\tPHASE\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.ScenarioID, r.Status, r.Phase,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Duration.Round(time.Millisecond))
	}
	return tw.Flush()
}

func exportReport(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(reportFormatFlag)
	if err != nil {
		return err
	}
	runs, err := storedRuns(cmd)
	if err != nil {
		return err
	}
	return report.WriteFile(reportOutFlag, format, report.New("", app.cfg.Target.BaseURL, runs, time.Now()))
}
