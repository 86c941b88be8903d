package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Add proper origin checking
	},
}

// WebSocket is a Transport carrying one message per text frame over a
// WebSocket connection. Either side of a session can use it: servers obtain
// one from UpgradeWebSocket inside an HTTP handler, clients from
// DialWebSocket.
type WebSocket struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// WebSocketOption is a function that configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWebSocketLogger sets the logger for the transport.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(w *WebSocket) {
		w.logger = logger
	}
}

// NewWebSocket wraps an established connection in a Transport. The transport
// takes ownership of the connection.
func NewWebSocket(conn *websocket.Conn, options ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		conn:   conn,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// DialWebSocket connects to a WebSocket endpoint and returns the transport
// for it.
func DialWebSocket(ctx context.Context, url string, options ...WebSocketOption) (*WebSocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return NewWebSocket(conn, options...), nil
}

// UpgradeWebSocket upgrades an HTTP request to a WebSocket connection and
// returns the transport for it. Call it from an http.Handler serving the
// session endpoint.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request, options ...WebSocketOption) (*WebSocket, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return NewWebSocket(conn, options...), nil
}

// Send writes msg as a single text frame. Safe for concurrent use.
func (w *WebSocket) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		if err := w.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
		defer w.conn.SetWriteDeadline(time.Time{})
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Receive blocks until the next frame decodes into a message. A normal close
// from the peer returns io.EOF.
func (w *WebSocket) Receive(ctx context.Context) (Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := w.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
		defer w.conn.SetReadDeadline(time.Time{})
	}

	_, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("websocket read error: %w", err)
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}

// Close sends a close frame to the peer and tears down the connection.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		err := w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err != nil && err != websocket.ErrCloseSent {
			w.logger.Debug("failed to write close frame", slog.String("err", err.Error()))
		}
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
