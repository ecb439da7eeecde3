// Package transport carries one envelope to a peer and brings back its reply.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/HsiangNianian/acp/internal/protocol"
)

const DefaultBaseURL = "http://localhost:8000"

// Transport performs a single request/reply round-trip. Failures to reach the
// peer, and refusals returned by it, match protocol.ErrTransport. A reply that
// is not a valid envelope matches protocol.ErrDecode.
type Transport interface {
	Send(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error)
}

// New selects a binding by kind: "http" (default) or "ws".
func New(kind, baseURL, wsPath string, timeout time.Duration) (Transport, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	switch strings.ToLower(kind) {
	case "", "http":
		return NewHTTP(baseURL, timeout), nil
	case "ws", "websocket":
		u, err := WebSocketURL(baseURL, wsPath)
		if err != nil {
			return nil, err
		}
		return NewWebSocket(u, nil), nil
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", kind)
	}
}

// WebSocketURL maps an http(s) base URL onto the ws(s) endpoint at path.
// A URL that is already ws(s) is returned unchanged.
func WebSocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("transport: parse url %q: %w", base, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return u.String(), nil
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
	if path == "" {
		path = "/ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
