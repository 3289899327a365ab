// Package runner invokes the external CLIs the dashboard wraps. Every
// invocation carries a hard wall-clock timeout; on expiry the process is
// killed and a *TimeoutError is returned instead of hanging the caller.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zsprackett/gtdash/internal/metrics"
)

// DefaultTimeout bounds a single command when the caller configures none.
const DefaultTimeout = 15 * time.Second

// ErrTimeout matches any *TimeoutError via errors.Is.
var ErrTimeout = errors.New("command timed out")

// TimeoutError reports a command that was killed after exceeding its timeout.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Command, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := e.Stderr
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Command, msg)
}

// Runner executes commands with a fixed timeout.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

func New(timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{timeout: timeout, logger: logger}
}

// Timeout returns the per-command limit.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Run executes name with args in dir and returns its stdout. Stdout is
// returned even when the command exits non-zero since several gt/bd
// subcommands print a JSON body alongside a failure status.
func (r *Runner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	program := filepath.Base(name)
	timer := metrics.NewTimer()
	err := cmd.Run()
	timer.ObserveDuration(metrics.CommandDuration.WithLabelValues(program))

	label := commandLabel(name, args)
	if err == nil {
		metrics.CommandRuns.WithLabelValues(program, "ok").Inc()
		return stdout.Bytes(), nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		metrics.CommandRuns.WithLabelValues(program, "timeout").Inc()
		r.logger.Warn("runner: command timed out", "cmd", label, "timeout", r.timeout)
		return nil, &TimeoutError{Command: label, Timeout: r.timeout}
	}
	if ctx.Err() != nil {
		metrics.CommandRuns.WithLabelValues(program, "cancelled").Inc()
		return nil, fmt.Errorf("%s: %w", label, ctx.Err())
	}

	metrics.CommandRuns.WithLabelValues(program, "error").Inc()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &ExitError{
			Command: label,
			Code:    exitErr.ExitCode(),
			Stderr:  strings.TrimSpace(stderr.String()),
		}
	}
	return nil, fmt.Errorf("%s: %w", label, err)
}

// Stream is a long-lived subprocess whose stdout is consumed line by line.
type Stream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	lines  chan string
	done   chan struct{}
	once   sync.Once
	err    error
}

// Stream starts name with args and feeds each stdout line to Lines until the
// process exits or Stop is called. No timeout applies to streams.
func (r *Runner) Stream(ctx context.Context, dir, name string, args ...string) (*Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(streamCtx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.WaitDelay = time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", commandLabel(name, args), err)
	}

	s := &Stream{
		cmd:    cmd,
		cancel: cancel,
		lines:  make(chan string, 64),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.lines)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			select {
			case s.lines <- sc.Text():
			case <-streamCtx.Done():
			}
		}
		s.err = cmd.Wait()
		if streamCtx.Err() != nil {
			s.err = nil
		}
	}()
	return s, nil
}

// Lines is closed once the process has exited.
func (s *Stream) Lines() <-chan string {
	return s.lines
}

// Done is closed after the process has been reaped.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err is the process exit error, nil when it was stopped deliberately.
// Only valid after Done is closed.
func (s *Stream) Err() error {
	return s.err
}

// Stop kills the process and waits for it to be reaped. Safe to call more than once.
func (s *Stream) Stop() {
	s.once.Do(func() {
		s.cancel()
	})
	<-s.done
}

func commandLabel(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
