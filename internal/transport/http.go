package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HsiangNianian/acp/internal/protocol"
)

const maxReplyBytes = 1 << 20

// ErrReplyTooLarge is returned when a reply body exceeds maxReplyBytes.
var ErrReplyTooLarge = errors.New("transport: reply too large")

// HTTP posts envelopes as JSON to a single endpoint.
type HTTP struct {
	url    string
	client *http.Client
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}}
}

func (t *HTTP) Send(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	body, err := protocol.Encode(env)
	if err != nil {
		return protocol.Envelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return protocol.Envelope{}, &protocol.TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return protocol.Envelope{}, &protocol.TransportError{Op: "post " + t.url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes+1))
	if err != nil {
		return protocol.Envelope{}, &protocol.TransportError{Op: "read reply", Err: err}
	}
	if len(raw) > maxReplyBytes {
		return protocol.Envelope{}, &protocol.TransportError{Op: "read reply", Err: ErrReplyTooLarge}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, err := protocol.ParseReply(resp.StatusCode, raw)
		var remote *protocol.RemoteError
		if errors.As(err, &remote) {
			return protocol.Envelope{}, remote
		}
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return protocol.Envelope{}, &protocol.RemoteError{Status: resp.StatusCode, Message: msg}
	}
	return protocol.ParseReply(resp.StatusCode, raw)
}
