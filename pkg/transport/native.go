package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sameehj/sshgate/pkg/config"
	"github.com/sameehj/sshgate/pkg/exec"
	"golang.org/x/crypto/ssh"
)

// Native dials the remote host with golang.org/x/crypto/ssh on every call.
// No local shell is involved.
type Native struct {
	addr       string
	client     *ssh.ClientConfig
	timeout    time.Duration
	maxCapture int
}

func NewNative(cfg *config.Config) *Native {
	timeout := cfg.Timeout()
	password := cfg.Remote.Password.Reveal()
	return &Native{
		addr: net.JoinHostPort(cfg.Remote.Host, strconv.Itoa(cfg.Remote.Port)),
		client: &ssh.ClientConfig{
			User: cfg.Remote.Username,
			Auth: []ssh.AuthMethod{
				ssh.Password(password),
				ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
					answers := make([]string, len(questions))
					for i := range answers {
						answers[i] = password
					}
					return answers, nil
				}),
			},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         timeout,
		},
		timeout:    timeout,
		maxCapture: cfg.Transport.MaxCapture,
	}
}

// RemoteCommand wraps escaped in eval "...": the remote shell removes the
// escaping the same way the local shell does in sshpass mode, so both
// transports hand identical text to the remote parser.
func RemoteCommand(escaped string) string {
	return `eval "` + escaped + `"`
}

func (t *Native) Run(ctx context.Context, escaped string) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	start := time.Now()

	client, err := t.dial(ctx)
	if err != nil {
		return nil, t.contextError(ctx, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, t.contextError(ctx, fmt.Errorf("open session: %w", err))
	}
	defer session.Close()

	stdout := exec.NewLimitedBuffer(t.maxCapture)
	stderr := exec.NewLimitedBuffer(t.maxCapture)
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(RemoteCommand(escaped))
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
		<-done
		return nil, t.contextError(ctx, ctx.Err())
	}

	code := 0
	if err != nil {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			code = exitErr.ExitStatus()
		case errors.As(err, &missing):
			return nil, &Error{Kind: KindRemote, Detail: missing.Error(), Err: err}
		default:
			return nil, t.contextError(ctx, err)
		}
	}
	return outcome(stdout.String(), stderr.String(), code, time.Since(start),
		stdout.Truncated() || stderr.Truncated())
}

func (t *Native) dial(ctx context.Context) (*ssh.Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}

	// The handshake does not take a context; bound it with the deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.addr, t.client)
	if err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("ssh handshake with %s: %w", t.addr, context.DeadlineExceeded)
		}
		return nil, &Error{Kind: KindRemote, Detail: fmt.Sprintf("ssh handshake with %s: %v", t.addr, err), Err: err}
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// contextError classifies err in light of ctx: an expired deadline is a
// timeout, anything else keeps its own kind or becomes unknown.
func (t *Native) contextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(t.timeout, err)
	}
	var terr *Error
	if errors.As(err, &terr) {
		return terr
	}
	return unknownError(err)
}
