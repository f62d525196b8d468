// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sameehj/sshgate/pkg/gateway"
	"github.com/sameehj/sshgate/pkg/mcp"
	"github.com/sameehj/sshgate/pkg/result"
	"github.com/sameehj/sshgate/pkg/version"
)

const (
	httpShutdownTimeout = 5 * time.Second
	maxBodyBytes        = 64 << 10
)

// Gateway is the subset of *gateway.Gateway the HTTP handlers call.
type Gateway interface {
	Exec(ctx context.Context, caller, command string) gateway.Reply
	Status(caller string) gateway.Status
	Test(ctx context.Context, caller string, notify func(string)) gateway.Reply
}

type HTTPServer struct {
	gateway  Gateway
	rpc      *mcp.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
	router   chi.Router
}

type ExecRequest struct {
	Caller  string `json:"caller"`
	Command string `json:"command"`
}

type ReplyResponse struct {
	Notices      []string `json:"notices,omitempty"`
	InvocationID string   `json:"invocation_id,omitempty"`
	Kind         string   `json:"kind"`
	Text         string   `json:"text"`
	OK           bool     `json:"ok"`
	DurationMS   int64    `json:"duration_ms"`
}

type StatusResponse struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Caller    string `json:"caller,omitempty"`
	Connected bool   `json:"connected"`
	Session   string `json:"session"`
}

type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Build   version.Info `json:"build"`
}

func NewHTTPServer(gw Gateway, logger *slog.Logger) *HTTPServer {
	s := &HTTPServer{gateway: gw, rpc: mcp.NewServer(gw), logger: logger}
	s.rpc.SetLogger(logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/v1/ssh", func(r chi.Router) {
		r.Post("/", s.handleExec)
		r.Get("/status", s.handleStatus)
		r.Post("/test", s.handleTest)
	})
	r.Get("/v1/ws", s.handleWebSocket)
	s.router = r
	return s
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *HTTPServer) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *HTTPServer) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logInfo("http_listening", "addr", listener.Addr().String())
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: version.Version, Build: version.Get()})
}

func (s *HTTPServer) handleExec(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reply := s.gateway.Exec(r.Context(), req.Caller, req.Command)
	writeJSON(w, statusFor(reply.Kind), toResponse(reply, nil))
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.gateway.Status(r.URL.Query().Get("caller"))
	writeJSON(w, http.StatusOK, StatusResponse{
		Host:      st.Host,
		Port:      st.Port,
		Username:  st.Username,
		Caller:    st.Caller,
		Connected: st.Connected,
		Session:   st.SessionState(),
	})
}

func (s *HTTPServer) handleTest(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	var notices []string
	reply := s.gateway.Test(r.Context(), req.Caller, func(msg string) {
		notices = append(notices, msg)
	})
	writeJSON(w, statusFor(reply.Kind), toResponse(reply, notices))
}

// handleWebSocket speaks the same JSON-RPC tools as the stdio and TCP
// surfaces, one message per frame.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		return
	}
	defer conn.Close()

	s.logInfo("ws_session_start", "remote", r.RemoteAddr, "request_id", chimw.GetReqID(r.Context()))
	if err := s.rpc.ServeWebSocket(r.Context(), conn); err != nil {
		s.logInfo("ws_session_error", "remote", r.RemoteAddr, "error", err)
	}
	s.logInfo("ws_session_end", "remote", r.RemoteAddr)
}

func toResponse(reply gateway.Reply, notices []string) ReplyResponse {
	return ReplyResponse{
		Notices:      notices,
		InvocationID: reply.InvocationID,
		Kind:         string(reply.Kind),
		Text:         reply.Text,
		OK:           reply.OK(),
		DurationMS:   reply.Duration.Milliseconds(),
	}
}

func statusFor(kind result.Kind) int {
	switch kind {
	case result.KindOK:
		return http.StatusOK
	case result.KindUsage:
		return http.StatusBadRequest
	case result.KindDenied:
		return http.StatusForbidden
	case result.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *HTTPServer) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}
