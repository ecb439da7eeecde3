package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/gorilla/websocket"
)

// WebSocket keeps one connection to the peer and sends one envelope frame
// per round-trip. A connection that fails is dropped and dialed again on the
// next Send.
type WebSocket struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocket(url string, header http.Header) *WebSocket {
	return &WebSocket{url: url, header: header, dialer: websocket.DefaultDialer}
}

func (t *WebSocket) Send(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	// One round-trip at a time, so the next frame read is our reply.
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.ensureConn(ctx)
	if err != nil {
		return protocol.Envelope{}, err
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	// Cancellation without a deadline unblocks the read by closing the conn.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(env); err != nil {
		t.drop()
		return protocol.Envelope{}, &protocol.TransportError{Op: "ws write", Err: ctxErr(ctx, err)}
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.drop()
		return protocol.Envelope{}, &protocol.TransportError{Op: "ws read", Err: ctxErr(ctx, err)}
	}
	return protocol.ParseReply(0, raw)
}

// ctxErr prefers the context's error when it caused err.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

func (t *WebSocket) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}
	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return nil, &protocol.TransportError{Op: "dial " + t.url, Err: ctxErr(ctx, err)}
	}
	t.conn = conn
	return conn, nil
}

func (t *WebSocket) drop() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// Close sends a close frame and releases the connection.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := t.conn.Close()
	t.conn = nil
	return err
}
