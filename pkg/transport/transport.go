// Package transport runs an already escaped command on the configured remote
// host and reports either its captured output or a typed *Error.
//
// Two implementations share the same outcome rules: SSHPass shells out to
// sshpass+ssh (the default) and Native speaks SSH in-process through
// golang.org/x/crypto/ssh. Neither keeps a connection between calls.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sameehj/sshgate/pkg/config"
)

// BenignWarningPrefix starts the line ssh prints when it records an unknown
// host key. With host-key checking disabled it shows up on every call.
const BenignWarningPrefix = "Warning: Permanently added"

// Transport executes one command per call. Implementations must be safe for
// concurrent use.
type Transport interface {
	Run(ctx context.Context, escaped string) (*Output, error)
}

type Output struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

type Kind string

const (
	KindTimeout Kind = "timeout"
	KindRemote  Kind = "remote"
	KindUnknown Kind = "unknown"
)

// Error is the only error type returned by Run.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transport %s", e.Kind)
	}
	return fmt.Sprintf("transport %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns the transport selected by cfg.Transport.Mode.
func New(cfg *config.Config) (Transport, error) {
	switch cfg.Transport.Mode {
	case config.ModeSSHPass, "":
		return NewSSHPass(cfg), nil
	case config.ModeNative:
		return NewNative(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.Transport.Mode)
	}
}

// ResidualStderr drops the benign host-key warning lines and returns what is
// left, trimmed.
func ResidualStderr(stderr string) string {
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), BenignWarningPrefix) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// outcome applies the rules shared by every transport: a non-zero exit
// status or any stderr beyond the benign warning is a remote error.
func outcome(stdout, stderr string, code int, d time.Duration, truncated bool) (*Output, error) {
	residual := ResidualStderr(stderr)
	if code != 0 || residual != "" {
		detail := residual
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", code)
		}
		return nil, &Error{Kind: KindRemote, Detail: detail}
	}
	return &Output{Stdout: stdout, Stderr: stderr, ExitCode: code, Duration: d, Truncated: truncated}, nil
}

func timeoutError(after time.Duration, err error) *Error {
	return &Error{Kind: KindTimeout, Detail: fmt.Sprintf("no result after %s", after), Err: err}
}

func unknownError(err error) *Error {
	return &Error{Kind: KindUnknown, Detail: err.Error(), Err: err}
}
