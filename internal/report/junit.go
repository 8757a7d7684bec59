package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Time     float64      `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Props     []junitProperty `xml:"properties>property,omitempty"`
	Cases     []junitCase     `xml:"testcase"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure,omitempty"`
	Error     *junitMessage `xml:"error,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

func writeJUnit(w io.Writer, r *Report) error {
	suite := junitSuite{
		Name:      "recipe-e2e",
		Tests:     r.Summary.Total,
		Failures:  r.Summary.Failed,
		Errors:    r.Summary.Errors,
		Time:      r.Duration().Seconds(),
		Timestamp: r.GeneratedAt.UTC().Format("2006-01-02T15:04:05"),
	}
	if r.Target != "" {
		suite.Props = append(suite.Props, junitProperty{Name: "target", Value: r.Target})
	}
	for _, res := range r.Results {
		tc := junitCase{
			Name:      fmt.Sprintf("%s: %s", res.ScenarioID, res.Title),
			Classname: "recipe-e2e." + res.ScenarioID,
			Time:      res.Duration.Seconds(),
			SystemOut: transcript(res),
		}
		msg := &junitMessage{Message: res.Error, Type: string(res.Phase), Body: res.Cause}
		switch res.Status {
		case scenario.StatusFailed:
			tc.Failure = msg
		case scenario.StatusError:
			tc.Error = msg
		}
		suite.Cases = append(suite.Cases, tc)
	}
	doc := junitSuites{
		Name:     r.Title,
		Tests:    suite.Tests,
		Failures: suite.Failures,
		Errors:   suite.Errors,
		Time:     suite.Time,
		Suites:   []junitSuite{suite},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// transcript lists executed steps and checked assertions one per line.
func transcript(res *scenario.Result) string {
	var b strings.Builder
	for _, st := range res.Steps {
		mark := "ok"
		if !st.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "step %d %s %s [%s] %s\n", st.Index+1, st.Action, st.Target, mark, round(st.Duration))
	}
	for _, a := range res.Assertions {
		mark := "visible"
		if !a.Visible {
			mark = "NOT VISIBLE"
		}
		fmt.Fprintf(&b, "expect %q [%s] %s\n", a.Text, mark, round(a.Duration))
	}
	return b.String()
}
