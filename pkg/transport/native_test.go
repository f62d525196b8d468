//go:build !windows

package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	osexec "os/exec"
	"sync"
	"testing"
	"time"

	"github.com/sameehj/sshgate/pkg/config"
	"github.com/sameehj/sshgate/pkg/exec"
	"golang.org/x/crypto/ssh"
)

// testSSHServer accepts password logins and runs exec requests with the
// local sh, standing in for the remote host.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig

	mu       sync.Mutex
	commands []string
}

func newTestSSHServer(t *testing.T, password string) *testSSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) != password {
				return nil, fmt.Errorf("password rejected")
			}
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &testSSHServer{listener: ln, config: cfg}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *testSSHServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *testSSHServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *testSSHServer) handleConn(conn net.Conn) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			return
		}
		go s.handleSession(ch, requests)
	}
}

func (s *testSSHServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			go func() {
				for r := range requests {
					if r.Type == "signal" {
						cancel()
					}
					if r.WantReply {
						_ = r.Reply(false, nil)
					}
				}
				cancel()
			}()

			cmd := osexec.CommandContext(ctx, "sh", "-c", payload.Command)
			cmd.Stdout = ch
			cmd.Stderr = ch.Stderr()
			cmd.WaitDelay = time.Second
			status := 0
			if err := cmd.Run(); err != nil {
				status = 255
				var exitErr *osexec.ExitError
				if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
					status = exitErr.ExitCode()
				}
			}
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func nativeConfig(port int, password string) *config.Config {
	cfg := config.Default()
	cfg.Remote = config.Remote{Host: "127.0.0.1", Port: port, Username: "u", Password: config.Secret(password)}
	cfg.Transport.Mode = config.ModeNative
	cfg.Transport.Timeout = "5s"
	return cfg
}

func TestNativeRun(t *testing.T) {
	t.Parallel()

	srv := newTestSSHServer(t, "p")
	tr := NewNative(nativeConfig(srv.port(), "p"))

	out, err := tr.Run(context.Background(), exec.Escape(`echo "hi"`))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Stdout != "hi\n" {
		t.Fatalf("unexpected stdout %q", out.Stdout)
	}
	got := srv.received()
	if len(got) != 1 || got[0] != `eval "echo \"hi\""` {
		t.Fatalf("unexpected remote command %q", got)
	}
}

func TestNativeMatchesSSHPassDelivery(t *testing.T) {
	t.Parallel()

	srv := newTestSSHServer(t, "p")
	tr := NewNative(nativeConfig(srv.port(), "p"))

	raw := "v='$HOME'; printf '%s' \"$v\" \"\\`x\\`\""
	out, err := tr.Run(context.Background(), exec.Escape(raw))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Stdout != "$HOME`x`" {
		t.Fatalf("remote shell did not see the raw command, stdout %q", out.Stdout)
	}
}

func TestNativeRemoteError(t *testing.T) {
	t.Parallel()

	srv := newTestSSHServer(t, "p")
	tr := NewNative(nativeConfig(srv.port(), "p"))

	_, err := tr.Run(context.Background(), exec.Escape("echo nope >&2; exit 2"))
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindRemote || terr.Detail != "nope" {
		t.Fatalf("expected remote error with detail, got %v", err)
	}

	_, err = tr.Run(context.Background(), exec.Escape("exit 3"))
	if !errors.As(err, &terr) || terr.Detail != "exit status 3" {
		t.Fatalf("expected exit status detail, got %v", err)
	}
}

func TestNativeBadPassword(t *testing.T) {
	t.Parallel()

	srv := newTestSSHServer(t, "p")
	tr := NewNative(nativeConfig(srv.port(), "wrong"))

	_, err := tr.Run(context.Background(), "echo hi")
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindRemote {
		t.Fatalf("expected remote error for rejected login, got %v", err)
	}
}

func TestNativeTimeout(t *testing.T) {
	t.Parallel()

	srv := newTestSSHServer(t, "p")
	cfg := nativeConfig(srv.port(), "p")
	cfg.Transport.Timeout = "300ms"
	tr := NewNative(cfg)

	start := time.Now()
	_, err := tr.Run(context.Background(), "sleep 30")
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout took too long")
	}
}

func TestNativeUnreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	tr := NewNative(nativeConfig(port, "p"))
	_, err = tr.Run(context.Background(), "echo hi")
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindUnknown {
		t.Fatalf("expected unknown error for refused dial, got %v", err)
	}
	if terr.Detail == "" {
		t.Fatalf("expected dial detail")
	}
}
