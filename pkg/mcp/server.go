// Package mcp serves the gateway's three tools over JSON-RPC 2.0 with
// Content-Length framing. Bare JSON lines are accepted on input as well.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sameehj/sshgate/pkg/gateway"
	"github.com/sameehj/sshgate/pkg/version"
)

// Gateway is the subset of *gateway.Gateway the server calls.
type Gateway interface {
	Exec(ctx context.Context, caller, command string) gateway.Reply
	Status(caller string) gateway.Status
	Test(ctx context.Context, caller string, notify func(string)) gateway.Reply
}

type Server struct {
	gateway        Gateway
	logger         *slog.Logger
	cancelOnHangup bool
}

func NewServer(gw Gateway) *Server {
	return &Server{gateway: gw}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetCancelOnHangup makes end of input cancel the call in flight. Network
// listeners want this since EOF means the peer is gone. Pipes keep the
// default and answer every request read before EOF.
func (s *Server) SetCancelOnHangup(cancel bool) {
	s.cancelOnHangup = cancel
}

type readResult struct {
	payload []byte
	err     error
}

// ServeContext handles requests one at a time until reader is exhausted, a
// write fails or ctx is done, which is a clean stop. The next message is read while a call runs, so
// a read error cancels the call's context, and so does EOF when
// SetCancelOnHangup is on.
func (s *Server) ServeContext(ctx context.Context, reader io.Reader, writer io.Writer) error {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)

	results := make(chan readResult)
	go func() {
		bufReader := bufio.NewReader(reader)
		for {
			payload, err := readMessage(bufReader)
			if err != nil && (s.cancelOnHangup || !errors.Is(err, io.EOF)) {
				cancel()
			}
			select {
			case results <- readResult{payload: payload, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	out := framedWriter{w: bufio.NewWriter(writer)}
	for {
		var next readResult
		select {
		case next = <-results:
		case <-ctx.Done():
			return nil
		}
		if next.err != nil {
			if errors.Is(next.err, io.EOF) {
				return nil
			}
			s.logError("mcp_read_failed", "error", next.err)
			return next.err
		}

		if err := s.handlePayload(callCtx, next.payload, out); err != nil {
			return err
		}
	}
}

// handlePayload decodes and answers one message. Only write failures are
// returned.
func (s *Server) handlePayload(ctx context.Context, payload []byte, out messageWriter) error {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logWarn("mcp_parse_error", "error", err)
		return writeError(out, nullID, codeParseError, "parse error", err.Error())
	}
	return s.dispatch(ctx, req, out)
}

// MaxMessageSize bounds a single framed payload.
const MaxMessageSize = 4 << 20

// nullID answers requests whose id could not be read.
var nullID = json.RawMessage("null")

func (s *Server) dispatch(ctx context.Context, req rpcRequest, w messageWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logError("mcp_handler_panic", "method", req.Method, "panic", fmt.Sprint(r))
			err = writeError(w, req.ID, codeInternalError, "internal error", nil)
		}
	}()

	if req.Method == "" {
		return writeError(w, req.ID, codeInvalidRequest, "invalid request", "missing method")
	}

	switch req.Method {
	case "initialize":
		return writeResult(w, req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools":   map[string]any{},
				"logging": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": version.Version,
			},
		})
	case "ping":
		return writeResult(w, req.ID, map[string]any{})
	case "tools/list":
		return writeResult(w, req.ID, map[string]any{"tools": toolCatalog()})
	case "tools/call":
		return s.handleCall(ctx, req, w)
	default:
		if strings.HasPrefix(req.Method, "notifications/") {
			return nil
		}
		return writeError(w, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) handleCall(ctx context.Context, req rpcRequest, w messageWriter) error {
	var params callParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return writeError(w, req.ID, codeInvalidParams, "invalid params", err.Error())
		}
	}

	args := params.Arguments
	switch params.Name {
	case ToolSSH:
		reply := s.gateway.Exec(ctx, args.Caller, args.Command)
		return writeResult(w, req.ID, textResult(reply.Text, !reply.OK()))
	case ToolSSHStatus:
		return writeResult(w, req.ID, textResult(s.gateway.Status(args.Caller).String(), false))
	case ToolSSHTest:
		var notifyErr error
		reply := s.gateway.Test(ctx, args.Caller, func(msg string) {
			if notifyErr == nil {
				notifyErr = writeNotification(w, MethodNotifyMessage, logMessage{Level: "info", Data: msg})
			}
		})
		if notifyErr != nil {
			return notifyErr
		}
		return writeResult(w, req.ID, textResult(reply.Text, !reply.OK()))
	default:
		return writeError(w, req.ID, codeInvalidParams, "unknown tool", params.Name)
	}
}

// messageWriter sends one JSON-RPC message in whatever framing the
// connection uses.
type messageWriter interface {
	writeJSON(v interface{}) error
}

type framedWriter struct {
	w *bufio.Writer
}

func (f framedWriter) writeJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeMessage(f.w, payload)
}

func writeResult(w messageWriter, id interface{}, result interface{}) error {
	if id == nil {
		return nil
	}
	return w.writeJSON(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(w messageWriter, id interface{}, code int, message string, data interface{}) error {
	if id == nil {
		return nil
	}
	return w.writeJSON(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message, Data: data}})
}

func writeNotification(w messageWriter, method string, params interface{}) error {
	return w.writeJSON(rpcNotification{JSONRPC: "2.0", Method: method, Params: params})
}

func writeMessage(w *bufio.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// readMessage returns the next payload. A line starting with "{" is taken as
// a complete message; otherwise headers are read up to a blank line and
// Content-Length bytes follow.
func readMessage(r *bufio.Reader) ([]byte, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil && len(line) == 0 {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "{") {
			return []byte(trimmed), nil
		}

		contentLength, err := headerLength(trimmed, 0)
		if err != nil {
			return nil, err
		}
		for {
			headerLine, readErr := r.ReadString('\n')
			if readErr != nil && len(headerLine) == 0 {
				return nil, readErr
			}
			header := strings.TrimRight(headerLine, "\r\n")
			if header == "" {
				break
			}
			if contentLength, err = headerLength(header, contentLength); err != nil {
				return nil, err
			}
		}

		if contentLength <= 0 {
			return nil, fmt.Errorf("missing Content-Length")
		}
		if contentLength > MaxMessageSize {
			return nil, fmt.Errorf("message of %d bytes exceeds limit of %d", contentLength, MaxMessageSize)
		}

		payload := make([]byte, contentLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

func headerLength(header string, current int) (int, error) {
	name, value, ok := strings.Cut(header, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "content-length") {
		return current, nil
	}
	length, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("bad Content-Length %q: %w", value, err)
	}
	return length, nil
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
