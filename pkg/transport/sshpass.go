package transport

import (
	"context"
	"errors"
	osexec "os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sameehj/sshgate/pkg/config"
	"github.com/sameehj/sshgate/pkg/exec"
)

// SSHPass runs sshpass+ssh as a local subprocess through sh -c. The password
// reaches sshpass through the SSHPASS variable of the child environment, so
// it never shows up in the command line or the process table.
type SSHPass struct {
	host        string
	port        int
	username    string
	sshpassPath string
	sshPath     string
	timeout     time.Duration
	runner      *exec.Runner
}

func NewSSHPass(cfg *config.Config) *SSHPass {
	timeout := cfg.Timeout()
	return &SSHPass{
		host:        cfg.Remote.Host,
		port:        cfg.Remote.Port,
		username:    cfg.Remote.Username,
		sshpassPath: orDefault(cfg.Transport.SSHPassPath, "sshpass"),
		sshPath:     orDefault(cfg.Transport.SSHPath, "ssh"),
		timeout:     timeout,
		runner: &exec.Runner{
			Timeout:   timeout,
			MaxOutput: cfg.Transport.MaxCapture,
			Env:       []string{"SSHPASS=" + cfg.Remote.Password.Reveal()},
		},
	}
}

// Invocation returns the shell line run for escaped. The command is placed
// inside double quotes; escaped must come from exec.Escape.
func (t *SSHPass) Invocation(escaped string) string {
	return strings.Join([]string{
		shellQuote(t.sshpassPath), "-e",
		shellQuote(t.sshPath),
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-p", strconv.Itoa(t.port),
		shellQuote(t.username) + "@" + shellQuote(t.host),
		`"` + escaped + `"`,
	}, " ")
}

func (t *SSHPass) Run(ctx context.Context, escaped string) (*Output, error) {
	// sh would report a missing sshpass as exit 127, which is
	// indistinguishable from a missing remote command.
	if _, err := osexec.LookPath(t.sshpassPath); err != nil {
		return nil, unknownError(err)
	}
	res, err := t.runner.RunShell(ctx, t.Invocation(escaped))
	if err != nil {
		if errors.Is(err, exec.ErrTimeout) {
			return nil, timeoutError(t.timeout, err)
		}
		return nil, unknownError(err)
	}
	return outcome(res.Stdout, res.Stderr, res.Code, res.Duration, res.Truncated)
}

// shellQuote single-quotes s for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
