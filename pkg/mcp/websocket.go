package mcp

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
)

// wsWriter sends each JSON-RPC message as one text frame.
type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) writeJSON(v interface{}) error {
	return w.conn.WriteJSON(v)
}

// ServeWebSocket handles JSON-RPC messages arriving one per frame until the
// peer closes the connection or ctx is done. A closed peer cancels the call
// in flight.
func (s *Server) ServeWebSocket(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(MaxMessageSize)
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	done := make(chan struct{})
	defer close(done)

	results := make(chan readResult)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
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

	out := wsWriter{conn: conn}
	for {
		next := <-results
		if err := next.err; err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			s.logWarn("mcp_ws_read_failed", "error", err)
			return err
		}

		if err := s.handlePayload(callCtx, next.payload, out); err != nil {
			return err
		}
	}
}
