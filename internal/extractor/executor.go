// Package extractor runs the external media extractor as a child process.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/iconidentify/mediagrab/internal/domain"
	"github.com/iconidentify/mediagrab/internal/metrics"
)

const (
	defaultWaitDelay = 5 * time.Second
	stderrTailLines  = 20
)

// Result is the outcome of a buffered run.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Executor launches the extractor binary. It never retries.
type Executor struct {
	binary    string
	logger    *slog.Logger
	waitDelay time.Duration
}

// New creates an executor for the binary at path.
func New(binary string, logger *slog.Logger) *Executor {
	return &Executor{
		binary:    binary,
		logger:    logger.With("component", "extractor"),
		waitDelay: defaultWaitDelay,
	}
}

// Binary returns the path of the extractor binary.
func (e *Executor) Binary() string {
	return e.binary
}

func (e *Executor) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.binary, args...)
	// Stdin stays nil, which connects the child to the null device.
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = e.waitDelay
	return cmd
}

// Run executes the extractor and captures stdout and stderr in full.
//
// A start failure is returned as *domain.LaunchError. A nonzero exit is not an
// error; it is reported through Result.ExitCode. If ctx ends first the process
// group is killed and ctx.Err() is returned along with whatever was captured.
func (e *Executor) Run(ctx context.Context, args []string) (*Result, error) {
	cmd := e.command(ctx, args)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		e.logger.Error("extractor launch failed", "binary", e.binary, "error", err)
		return nil, &domain.LaunchError{Binary: e.binary, Err: err}
	}
	metrics.ActiveProcesses.Inc()
	defer metrics.ActiveProcesses.Dec()

	waitErr := cmd.Wait()
	res := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	metrics.ProcessDuration.WithLabelValues("buffered").Observe(res.Duration.Seconds())

	if diag := strings.TrimSpace(stderr.String()); diag != "" {
		e.logger.Warn("extractor stderr", "pid", cmd.ProcessState.Pid(), "stderr", diag)
	}
	e.logger.Debug("extractor finished",
		"mode", "buffered",
		"exit_code", res.ExitCode,
		"stdout_bytes", len(res.Stdout),
		"duration", res.Duration,
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("wait for extractor: %w", waitErr)
	}
	return res, nil
}

// Stream starts the extractor and hands back its live stdout.
//
// Stderr is drained and logged line by line in the background so the child
// never blocks on a full stderr pipe. The caller must read stdout until it
// is done with it and then call Wait exactly once.
func (e *Executor) Stream(ctx context.Context, args []string) (*Process, error) {
	cmd := e.command(ctx, args)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		e.logger.Error("extractor launch failed", "binary", e.binary, "error", err)
		return nil, &domain.LaunchError{Binary: e.binary, Err: err}
	}
	metrics.ActiveProcesses.Inc()

	p := &Process{
		cmd:        cmd,
		stdout:     stdout,
		tail:       newTailBuffer(stderrTailLines),
		stderrDone: make(chan struct{}),
		started:    time.Now(),
		logger:     e.logger.With("pid", cmd.Process.Pid),
	}
	go p.drainStderr(stderr)

	return p, nil
}
