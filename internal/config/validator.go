package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	drivers       = []string{"playwright", "chromedp"}
	settleModes   = []string{"poll", "fixed"}
	reportFormats = []string{"console", "json", "yaml", "junit", "markdown", "html", "xlsx"}
	logFormats    = []string{"console", "json"}
)

// Validate checks the values a run cannot start without and reports every
// problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, "  - "+fmt.Sprintf(format, args...))
	}

	if u, err := url.Parse(c.Target.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("target.base_url must be an absolute URL, got %q", c.Target.BaseURL)
	}
	if !oneOf(c.Browser.Driver, drivers) {
		add("browser.driver must be one of %s, got %q", strings.Join(drivers, ", "), c.Browser.Driver)
	}
	if c.Browser.Window.Width <= 0 || c.Browser.Window.Height <= 0 {
		add("browser.window must have a positive width and height")
	}
	if !oneOf(c.Timeouts.Settle, settleModes) {
		add("timeouts.settle must be one of %s, got %q", strings.Join(settleModes, ", "), c.Timeouts.Settle)
	}
	if c.Timeouts.Navigate <= 0 {
		add("timeouts.navigate must be positive")
	}
	if c.Timeouts.Step <= 0 {
		add("timeouts.step must be positive")
	}
	if c.Timeouts.Assertion <= 0 {
		add("timeouts.assertion must be positive")
	}
	if c.Runner.Parallel < 1 {
		add("runner.parallel must be at least 1, got %d", c.Runner.Parallel)
	}
	if c.Store.Enabled && c.Store.DSN == "" {
		add("store.dsn is required when the store is enabled")
	}
	if c.Redis.Enabled && c.Redis.ListSize < 1 {
		add("redis.list_size must be at least 1 when redis is enabled")
	}
	if !oneOf(c.Report.Format, reportFormats) {
		add("report.format must be one of %s, got %q", strings.Join(reportFormats, ", "), c.Report.Format)
	}
	if !oneOf(c.Logging.Format, logFormats) {
		add("logging.format must be one of %s, got %q", strings.Join(logFormats, ", "), c.Logging.Format)
	}
	names := make(map[string]bool, len(c.Schedule))
	for i, s := range c.Schedule {
		if s.Name == "" {
			add("schedule[%d] has no name", i)
		} else if names[s.Name] {
			add("schedule %q is defined twice", s.Name)
		}
		names[s.Name] = true
		if s.Spec == "" {
			add("schedule %q has no cron spec", s.Name)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
