// Package preflight checks that the application under test answers before a
// browser is launched, and can switch to a reachable local dev server.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrTargetUnreachable is returned when neither the configured origin nor
// any candidate answers.
var ErrTargetUnreachable = errors.New("target unreachable")

// DefaultPorts are the dev-server ports tried during auto-detection: the
// Angular CLI default first, then common alternatives.
var DefaultPorts = []string{"4200", "4000", "8080"}

// Prober probes origins with a TCP dial followed by an HTTP GET.
type Prober struct {
	DialTimeout time.Duration
	HTTPTimeout time.Duration
	Ports       []string
	Paths       []string

	logger *zap.Logger
	client *http.Client
}

// New returns a Prober with the short timeouts used before every run.
func New(logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		DialTimeout: 250 * time.Millisecond,
		HTTPTimeout: 800 * time.Millisecond,
		Ports:       DefaultPorts,
		Paths:       []string{"/"},
		logger:      logger,
		client:      &http.Client{},
	}
}

// Reachable reports whether base accepts a TCP connection and answers an
// HTTP request on one of the probe paths. Any HTTP status counts as an answer.
func (p *Prober) Reachable(ctx context.Context, base string) error {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid target %q", base)
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	d := net.Dialer{Timeout: p.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("dial %s: %w", host, err)
	}
	_ = conn.Close()

	var lastErr error
	for _, path := range p.Paths {
		reqCtx, cancel := context.WithTimeout(ctx, p.HTTPTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimRight(base, "/")+path, nil)
		if err != nil {
			cancel()
			return err
		}
		resp, err := p.client.Do(req)
		cancel()
		if err == nil {
			_ = resp.Body.Close()
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// Candidates lists the origins tried after base: localhost and 127.0.0.1 on
// the configured port followed by Ports, without duplicates or base itself.
func (p *Prober) Candidates(base string) []string {
	var candidates []string
	if u, err := url.Parse(base); err == nil {
		scheme := u.Scheme
		if scheme == "" {
			scheme = "http"
		}
		ports := p.Ports
		if port := u.Port(); port != "" {
			ports = append([]string{port}, ports...)
		}
		for _, host := range []string{"localhost", "127.0.0.1"} {
			for _, port := range ports {
				candidates = append(candidates, scheme+"://"+host+":"+port)
			}
		}
	}

	seen := map[string]struct{}{strings.TrimRight(base, "/"): {}}
	uniq := []string{}
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		uniq = append(uniq, c)
	}
	return uniq
}

// Resolve returns base when it is reachable. Otherwise, when autodetect is
// set, it returns the first reachable candidate. ErrTargetUnreachable wraps
// the last probe error when nothing answers.
func (p *Prober) Resolve(ctx context.Context, base string, autodetect bool) (string, error) {
	start := time.Now()
	err := p.Reachable(ctx, base)
	if err == nil {
		return base, nil
	}
	if !autodetect {
		return "", fmt.Errorf("%w: %s: %w", ErrTargetUnreachable, base, err)
	}

	tried := []string{base}
	for _, c := range p.Candidates(base) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		tried = append(tried, c)
		if p.Reachable(ctx, c) == nil {
			p.logger.Info("auto-detect switched target",
				zap.String("from", base), zap.String("to", c),
				zap.Duration("elapsed", time.Since(start)), zap.Strings("tried", tried))
			return c, nil
		}
	}
	p.logger.Warn("no reachable target", zap.Strings("tried", tried), zap.Duration("elapsed", time.Since(start)))
	return "", fmt.Errorf("%w: tried %s: %w", ErrTargetUnreachable, strings.Join(tried, ", "), err)
}
