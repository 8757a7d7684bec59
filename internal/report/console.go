package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const maxConsoleError = 100

func writeConsole(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tSTATUS\tPHASE\tDURATION\tDETAIL")
	for _, res := range r.Results {
		detail := failureDetail(res)
		if r := []rune(detail); len(r) > maxConsoleError {
			detail = string(r[:maxConsoleError-3]) + "..."
		}
		detail = strings.ReplaceAll(detail, "\n", " ")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", res.ScenarioID, strings.ToUpper(string(res.Status)), res.Phase, round(res.Duration), detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	s := r.Summary
	_, err := fmt.Fprintf(w, "\n%d scenarios: %d passed, %d failed, %d errors (%s)\n",
		s.Total, s.Passed, s.Failed, s.Errors, round(r.Duration()))
	return err
}
