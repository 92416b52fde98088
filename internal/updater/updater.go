// Package updater runs the external catalog update script and captures its
// output for the /run-update endpoint.
package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/shlex"

	"app-catalog-drop/internal/logging"
)

// ErrNotConfigured is returned by Run when no command line was given.
var ErrNotConfigured = errors.New("update command not configured")

// Result is the outcome of a script run that started successfully.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the script exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns stdout on success; on failure it prefers stderr and falls
// back to stdout when stderr is empty.
func (r Result) Output() string {
	if r.Success() || r.Stderr == "" {
		return r.Stdout
	}
	return r.Stderr
}

// Options specifies the script to run.
type Options struct {
	Command string // shell-style command line, e.g. "python3 update_apps.py --all"
	Dir     string
	Env     []string
	Timeout time.Duration // 0 means no timeout beyond the caller's context
}

// Invoker runs one update at a time.
type Invoker struct {
	name    string
	args    []string
	dir     string
	env     []string
	timeout time.Duration

	mu sync.Mutex
}

// New parses the command line. An empty command yields an Invoker whose Run
// always returns ErrNotConfigured.
func New(opts Options) (*Invoker, error) {
	inv := &Invoker{dir: opts.Dir, env: opts.Env, timeout: opts.Timeout}
	if opts.Command == "" {
		return inv, nil
	}

	argv, err := shlex.Split(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("parse update command: %w", err)
	}
	if len(argv) == 0 {
		return inv, nil
	}
	inv.name, inv.args = argv[0], argv[1:]
	return inv, nil
}

// Configured reports whether a command is set.
func (inv *Invoker) Configured() bool {
	return inv != nil && inv.name != ""
}

// Run executes the script and waits for it. A non-zero exit is reported in
// the Result, not as an error. Failing to start, or hitting the timeout, is
// an error. Concurrent callers are serialized.
func (inv *Invoker) Run(ctx context.Context) (Result, error) {
	if !inv.Configured() {
		return Result{}, ErrNotConfigured
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.name, inv.args...)
	cmd.Dir = inv.dir
	cmd.Env = append(os.Environ(), inv.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Info("update_started", map[string]any{
		"command": inv.name,
		"args":    inv.args,
		"dir":     inv.dir,
	})

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		logging.Error("update_aborted", map[string]any{
			"duration_ms": res.Duration.Milliseconds(),
		}, ctxErr)
		return res, fmt.Errorf("update script aborted: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		logging.Error("update_start_failed", map[string]any{"command": inv.name}, err)
		return res, fmt.Errorf("start update script: %w", err)
	}

	logging.Info("update_finished", map[string]any{
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
		"stdout_len":  len(res.Stdout),
		"stderr_len":  len(res.Stderr),
	})
	return res, nil
}
