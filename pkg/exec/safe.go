// Package exec runs local processes under a deadline and escapes text for
// double-quoted shell words.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait keeps draining pipes after the process
// group has been killed.
const waitDelay = 2 * time.Second

// ErrTimeout is wrapped by Run when the deadline expires.
var ErrTimeout = errors.New("command timed out")

type Result struct {
	Stdout    string
	Stderr    string
	Code      int
	Duration  time.Duration
	Truncated bool
}

// Runner starts one process per call. On timeout or cancellation the whole
// process group is killed and reaped before Run returns.
type Runner struct {
	Timeout   time.Duration
	MaxOutput int
	// Env is appended to the parent environment of the child only.
	Env []string
}

// RunShell runs line with sh -c. Lines are POSIX shell syntax.
func (r *Runner) RunShell(ctx context.Context, line string) (*Result, error) {
	return r.Run(ctx, "sh", "-c", line)
}

// Run executes name with args. A non-zero exit status is reported through
// Result.Code with a nil error; the error is reserved for timeouts,
// cancellation and launch or I/O failures.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if name == "" {
		return nil, errors.New("command is required")
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	command := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		command.Env = append(os.Environ(), r.Env...)
	}
	configureProcessGroup(command)
	command.Cancel = func() error {
		killProcessGroup(command)
		return nil
	}
	command.WaitDelay = waitDelay

	stdoutBuf := NewLimitedBuffer(r.MaxOutput)
	stderrBuf := NewLimitedBuffer(r.MaxOutput)
	command.Stdout = stdoutBuf
	command.Stderr = stderrBuf

	start := time.Now()
	err := command.Run()
	res := &Result{
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  time.Since(start),
		Truncated: stdoutBuf.Truncated() || stderrBuf.Truncated(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
		}
		return res, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Code = exitErr.ExitCode()
			return res, nil
		}
		return nil, err
	}
	return res, nil
}

// LimitedBuffer keeps at most limit bytes and silently drops the rest.
// A limit <= 0 means unbounded.
type LimitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func NewLimitedBuffer(limit int) *LimitedBuffer {
	return &LimitedBuffer{limit: limit}
}

func (l *LimitedBuffer) Write(p []byte) (int, error) {
	if l.limit <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		_, _ = l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *LimitedBuffer) String() string {
	return l.buf.String()
}

func (l *LimitedBuffer) Truncated() bool {
	return l.truncated
}

var _ io.Writer = (*LimitedBuffer)(nil)
