// Package probe runs startup checks and reports which capabilities are live.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// DefaultTimeout bounds a check without its own timeout.
const DefaultTimeout = 5 * time.Second

// CheckFunc returns nil when the check passes.
type CheckFunc func(ctx context.Context) error

// Probe is a single startup check. A failing critical probe aborts startup.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool
	Timeout  time.Duration
}

// Result is the outcome of one probe.
type Result struct {
	Name     string
	Critical bool
	Err      error
	Duration time.Duration
}

// Passed reports whether the check succeeded.
func (r Result) Passed() bool { return r.Err == nil }

// Run executes the probes in order.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, 0, len(probes))
	for _, p := range probes {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Check(checkCtx)
		cancel()

		results = append(results, Result{
			Name:     p.Name,
			Critical: p.Critical,
			Err:      err,
			Duration: time.Since(start),
		})
	}
	return results
}

// Summarize logs every result and joins the errors of failed critical probes.
func Summarize(results []Result) error {
	var critical []error

	slog.Info("Startup Checks Summary")
	for _, r := range results {
		status := "PASS"
		if !r.Passed() {
			status = "FAIL"
		}
		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Passed():
			slog.Info(msg)
		case r.Critical:
			slog.Error(msg, "error", r.Err)
			critical = append(critical, fmt.Errorf("%s: %w", r.Name, r.Err))
		default:
			slog.Warn(msg, "error", r.Err)
		}
	}
	return errors.Join(critical...)
}

// WritableDir checks that dir exists or can be created and accepts new files.
func WritableDir(dir string) CheckFunc {
	return func(ctx context.Context) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, ".probe-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	}
}

// Available turns a boolean capability into a check.
func Available(what string, ok func() bool) CheckFunc {
	return func(ctx context.Context) error {
		if !ok() {
			return fmt.Errorf("%s not available", what)
		}
		return nil
	}
}
