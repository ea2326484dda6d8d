package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrUnavailable means the tool or data source is missing or failed
	ErrUnavailable = errors.New("probe unavailable")

	// ErrTimeout means the probe did not finish before its deadline
	ErrTimeout = errors.New("probe timed out")
)

// Runner abstracts command execution so probes can be unit-tested without
// touching real system networking.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

// NewOSRunner creates a runner for host commands
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Output runs name and returns its trimmed stdout
func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", classify(ctx, name, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// classify maps a command failure onto the probe error taxonomy
func classify(ctx context.Context, name string, err error, detail string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, name)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s not installed", ErrUnavailable, name)
	}
	if detail != "" {
		return fmt.Errorf("%w: %s: %v: %s", ErrUnavailable, name, err, detail)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, name, err)
}

// wrapContext converts a context error from a non-command probe
func wrapContext(ctx context.Context, what string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, what)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, what, err)
}
