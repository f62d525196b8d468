package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler serves one framed request stream until the reader is exhausted or
// ctx is done. ctx must reach every call the handler makes. The JSON-RPC
// surface implements it.
type Handler interface {
	ServeContext(ctx context.Context, r io.Reader, w io.Writer) error
}

// Server accepts TCP connections and hands each to the Handler.
type Server struct {
	addr        string
	handler     Handler
	authorizer  Authorizer
	maxSessions int
	logger      *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

func NewServer(addr string, handler Handler, authorizer Authorizer) *Server {
	if authorizer == nil {
		authorizer = NoopAuthorizer{}
	}
	return &Server{addr: addr, handler: handler, authorizer: authorizer, conns: make(map[string]*Conn)}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Server) SetMaxSessions(max int) {
	s.maxSessions = max
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts on listener until ctx is done. It closes the listener and
// waits for open connections to finish before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logInfo("gateway_listening", "addr", listener.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logError("accept_failed", "error", err)
			return err
		}
		remote := conn.RemoteAddr().String()

		if s.maxSessions > 0 && s.connCount() >= s.maxSessions {
			s.logWarn("session_limit_reached", "remote", remote, "limit", s.maxSessions)
			_ = conn.Close()
			continue
		}

		if err := s.authorizer.Allow(ctx, remote); err != nil {
			s.logWarn("session_denied", "remote", remote, "error", err)
			_ = conn.Close()
			continue
		}

		c := &Conn{ID: uuid.NewString(), RemoteAddr: remote, StartedAt: time.Now()}
		s.register(c)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.unregister(c.ID)
			connCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			// Unblocks the handler's read when the server shuts down.
			release := context.AfterFunc(connCtx, func() { _ = conn.Close() })
			defer release()

			s.logInfo("session_start", "id", c.ID, "remote", c.RemoteAddr)
			if err := s.handler.ServeContext(connCtx, conn, conn); err != nil && ctx.Err() == nil {
				s.logWarn("session_error", "id", c.ID, "error", err)
			}
			s.logInfo("session_end", "id", c.ID, "remote", c.RemoteAddr)
			_ = conn.Close()
		}()
	}
}

func (s *Server) register(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID] = c
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) ListConns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
