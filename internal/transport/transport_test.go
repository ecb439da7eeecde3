package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HsiangNianian/acp/internal/dispatch"
	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/HsiangNianian/acp/internal/server"
	"github.com/HsiangNianian/acp/internal/store"
	"github.com/HsiangNianian/acp/internal/transport"
	"github.com/gorilla/websocket"
)

func newPeer(t *testing.T) *httptest.Server {
	t.Helper()
	d := dispatch.New("B", store.NewMemoryRegistry(), dispatch.WithCapabilities([]string{"clean"}))
	srv := httptest.NewServer(server.New(d).Handler("/", "/ws"))
	t.Cleanup(srv.Close)
	return srv
}

func request(action protocol.Action, payload string) protocol.Envelope {
	env := protocol.Build(protocol.Options{
		Sender:   "A",
		Target:   "B",
		Body:     protocol.Body{Action: action},
		Metadata: protocol.Metadata{SessionToken: "tok"},
	})
	if payload != "" {
		env.Body.Payload = json.RawMessage(payload)
	}
	return env
}

func checkReply(t *testing.T, req, reply protocol.Envelope, want protocol.Action) {
	t.Helper()
	if reply.Body.Action != want {
		t.Fatalf("action = %s, want %s", reply.Body.Action, want)
	}
	if reply.Header.CorrelatesTo != req.Header.MessageID || reply.Header.Sender != "B" {
		t.Fatalf("reply header = %+v", reply.Header)
	}
	if reply.Metadata.SessionToken != "tok" {
		t.Fatalf("session token not echoed")
	}
}

func TestHTTPRoundTrip(t *testing.T) {
	srv := newPeer(t)
	tr := transport.NewHTTP(srv.URL, 5*time.Second)

	req := request(protocol.ActionRequest, `{"q":"weather"}`)
	reply, err := tr.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	checkReply(t, req, reply, protocol.ActionRespond)
}

func TestHTTPUnsupportedActionIsRemoteError(t *testing.T) {
	srv := newPeer(t)
	tr := transport.NewHTTP(srv.URL, 5*time.Second)

	_, err := tr.Send(context.Background(), request("DANCE", ""))
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Status != http.StatusBadRequest || remote.Code != protocol.CodeUnsupportedAction {
		t.Fatalf("remote = %+v", remote)
	}
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("remote errors are transport failures")
	}
}

func TestHTTPPlainErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := transport.NewHTTP(srv.URL, time.Second).Send(context.Background(), request(protocol.ActionRequest, ""))
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) || remote.Status != http.StatusBadGateway || remote.Message != "upstream down" {
		t.Fatalf("got %v", err)
	}
}

func TestHTTPErrorBodyWithOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unsupported action: DANCE"}`))
	}))
	defer srv.Close()

	_, err := transport.NewHTTP(srv.URL, time.Second).Send(context.Background(), request(protocol.ActionRequest, ""))
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) || remote.Message != "Unsupported action: DANCE" {
		t.Fatalf("got %v", err)
	}
}

func TestHTTPMalformedReplyIsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	_, err := transport.NewHTTP(srv.URL, time.Second).Send(context.Background(), request(protocol.ActionRequest, ""))
	if !errors.Is(err, protocol.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestHTTPOversizedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"pad":"` + strings.Repeat("x", 1<<20) + `"}`))
	}))
	defer srv.Close()

	_, err := transport.NewHTTP(srv.URL, 5*time.Second).Send(context.Background(), request(protocol.ActionRequest, ""))
	if !errors.Is(err, transport.ErrReplyTooLarge) || !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected reply too large, got %v", err)
	}
	if errors.Is(err, protocol.ErrDecode) {
		t.Fatalf("oversized reply reported as decode error")
	}
}

func TestHTTPUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := transport.NewHTTP(url, time.Second).Send(context.Background(), request(protocol.ActionRequest, ""))
	var te *protocol.TransportError
	if !errors.As(err, &te) || !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := newPeer(t)
	u, err := transport.WebSocketURL(srv.URL, "/ws")
	if err != nil {
		t.Fatalf("ws url: %v", err)
	}
	tr := transport.NewWebSocket(u, nil)
	defer tr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		req := request(protocol.ActionNegotiate, `{"price":10}`)
		reply, err := tr.Send(ctx, req)
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		checkReply(t, req, reply, protocol.ActionAccepted)
	}

	_, err = tr.Send(ctx, request(protocol.ActionNegotiate, ""))
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) || remote.Code != protocol.CodeInvalidEnvelope {
		t.Fatalf("expected refusal frame, got %v", err)
	}
}

func TestWebSocketCancelUnblocksRead(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Read frames and never answer.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	u, _ := transport.WebSocketURL(srv.URL, "/ws")
	tr := transport.NewWebSocket(u, nil)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := tr.Send(ctx, request(protocol.ActionRequest, ""))
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) || !errors.Is(err, protocol.ErrTransport) {
			t.Fatalf("expected cancelled transport error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("send still blocked after cancel")
	}
}

func TestLoopback(t *testing.T) {
	d := dispatch.New("B", store.NewMemoryRegistry())
	tr := transport.NewLoopback(d)

	req := request(protocol.ActionDelegate, `{"description":"clean data"}`)
	reply, err := tr.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	checkReply(t, req, reply, protocol.ActionAccepted)
	if reply.Body.TaskID == "" {
		t.Fatalf("no task id")
	}

	_, err = tr.Send(context.Background(), request(protocol.ActionAccepted, ""))
	var remote *protocol.RemoteError
	if !errors.As(err, &remote) || remote.Status != http.StatusBadRequest || !strings.Contains(remote.Message, "ACCEPTED") {
		t.Fatalf("got %v", err)
	}
}

func TestNewSelectsBinding(t *testing.T) {
	if tr, err := transport.New("", "", "", time.Second); err != nil {
		t.Fatalf("default: %v", err)
	} else if _, ok := tr.(*transport.HTTP); !ok {
		t.Fatalf("default binding is %T", tr)
	}
	if tr, err := transport.New("ws", "https://peer.example:8443/api/", "/ws", time.Second); err != nil {
		t.Fatalf("ws: %v", err)
	} else if _, ok := tr.(*transport.WebSocket); !ok {
		t.Fatalf("ws binding is %T", tr)
	}
	if _, err := transport.New("carrier-pigeon", "", "", time.Second); err == nil {
		t.Fatalf("expected error for unknown kind")
	}

	u, _ := transport.WebSocketURL("https://peer.example:8443/api/", "/ws")
	if u != "wss://peer.example:8443/api/ws" {
		t.Fatalf("url = %s", u)
	}
}
