// Package report renders run results for people and CI systems.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

// Format names an output encoding.
type Format string

const (
	FormatConsole  Format = "console"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatJUnit    Format = "junit"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatXLSX     Format = "xlsx"
)

var writers = map[Format]func(io.Writer, *Report) error{
	FormatConsole:  writeConsole,
	FormatJSON:     writeJSON,
	FormatYAML:     writeYAML,
	FormatJUnit:    writeJUnit,
	FormatMarkdown: writeMarkdown,
	FormatHTML:     writeHTML,
	FormatXLSX:     writeXLSX,
}

// Formats lists the supported formats.
func Formats() []string {
	out := make([]string, 0, len(writers))
	for f := range writers {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

// ParseFormat accepts a format name; "md" and "xml" are aliases.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "md":
		return FormatMarkdown, nil
	case "xml":
		return FormatJUnit, nil
	case "":
		return FormatConsole, nil
	default:
		if _, ok := writers[f]; ok {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown report format %q (have %s)", s, strings.Join(Formats(), ", "))
}

// Report is a set of results with their summary.
type Report struct {
	Title       string             `json:"title" yaml:"title"`
	Target      string             `json:"target,omitempty" yaml:"target,omitempty"`
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	Summary     scenario.Summary   `json:"summary" yaml:"summary"`
	Results     []*scenario.Result `json:"results" yaml:"results"`
}

// New builds a report over results.
func New(title, target string, results []*scenario.Result, now time.Time) *Report {
	if title == "" {
		title = "Smart Recipe Recommender E2E"
	}
	return &Report{
		Title:       title,
		Target:      target,
		GeneratedAt: now,
		Summary:     scenario.Summarize(results),
		Results:     results,
	}
}

// Duration is the summed run time.
func (r *Report) Duration() time.Duration {
	var d time.Duration
	for _, res := range r.Results {
		d += res.Duration
	}
	return d
}

// Write renders r in format.
func Write(w io.Writer, format Format, r *Report) error {
	fn, ok := writers[format]
	if !ok {
		return fmt.Errorf("unknown report format %q", format)
	}
	return fn(w, r)
}

// WriteFile renders r into path, or to stdout when path is empty or "-".
func WriteFile(path string, format Format, r *Report) error {
	if path == "" || path == "-" {
		return Write(os.Stdout, format, r)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := Write(f, format, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeYAML(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// failureDetail is the one-line explanation shown next to a failed run.
func failureDetail(res *scenario.Result) string {
	if res.Passed() {
		return ""
	}
	return res.Error
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
