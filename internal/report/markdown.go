package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

var statusIcon = map[scenario.Status]string{
	scenario.StatusPassed: "✅",
	scenario.StatusFailed: "❌",
	scenario.StatusError:  "⚠️",
}

// cellEscaper backslash-escapes the markdown punctuation that could turn
// driver output into markup; error text often quotes elements such as
// <button ...>.
var cellEscaper = strings.NewReplacer(
	"\r\n", " ",
	"\n", " ",
	`\`, `\\`,
	"|", `\|`,
	"<", `\<`,
	">", `\>`,
	"&", `\&`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
)

func cell(s string) string {
	return cellEscaper.Replace(s)
}

// Markdown renders r as GitHub-flavoured markdown.
func Markdown(r *Report) string {
	var b strings.Builder
	s := r.Summary
	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	if r.Target != "" {
		fmt.Fprintf(&b, "Target: `%s`  \n", r.Target)
	}
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "**%d scenarios**: %d passed, %d failed, %d errors in %s\n\n",
		s.Total, s.Passed, s.Failed, s.Errors, round(r.Duration()))

	b.WriteString("| Scenario | Title | Status | Phase | Duration | Detail |\n")
	b.WriteString("|---|---|---|---|---:|---|\n")
	for _, res := range r.Results {
		fmt.Fprintf(&b, "| %s | %s | %s %s | %s | %s | %s |\n",
			cell(res.ScenarioID), cell(res.Title), statusIcon[res.Status], res.Status,
			res.Phase, round(res.Duration), cell(failureDetail(res)))
	}

	for _, res := range r.Results {
		if res.Passed() {
			continue
		}
		fmt.Fprintf(&b, "\n## %s: %s\n\n", cell(res.ScenarioID), cell(res.Title))
		fmt.Fprintf(&b, "- **Status**: %s (%s)\n", res.Status, res.Phase)
		fmt.Fprintf(&b, "- **Error**: %s\n", cell(res.Error))
		if res.Cause != "" {
			fmt.Fprintf(&b, "- **Cause**: %s\n", cell(res.Cause))
		}
		if res.Screenshot != "" {
			fmt.Fprintf(&b, "- **Screenshot**: `%s`\n", res.Screenshot)
		}
		if len(res.Steps) > 0 {
			b.WriteString("\n| # | Action | Target | Result | Duration |\n|---:|---|---|---|---:|\n")
			for _, st := range res.Steps {
				result := "ok"
				if !st.Passed {
					result = "**" + cell(st.Error) + "**"
				}
				fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n", st.Index+1, st.Action, cell(st.Target), result, round(st.Duration))
			}
		}
	}
	return b.String()
}

func writeMarkdown(w io.Writer, r *Report) error {
	_, err := io.WriteString(w, Markdown(r))
	return err
}
