// Package server exposes a dispatcher over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/HsiangNianian/acp/internal/logging"
	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/HsiangNianian/acp/internal/trace"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const maxEnvelopeBytes = 1 << 20

// Replier handles one inbound envelope and produces the reply.
type Replier interface {
	Reply(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error)
}

type Option func(*Server)

func WithPublisher(p trace.Publisher) Option {
	return func(s *Server) {
		s.trace = p
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

type Server struct {
	replier Replier
	trace   trace.Publisher
	log     zerolog.Logger

	upgrader websocket.Upgrader

	connMu sync.RWMutex
	conns  map[*clientConn]struct{}
}

func New(r Replier, opts ...Option) *Server {
	s := &Server{
		replier: r,
		trace:   trace.Nop{},
		log:     zerolog.Nop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		conns: make(map[*clientConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes envelopes posted to path, WebSocket sessions on wsPath and
// a health probe on /healthz.
func (s *Server) Handler(path, wsPath string) http.Handler {
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.HandleEnvelope)
	if wsPath != "" {
		mux.HandleFunc(wsPath, s.HandleWS)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) HandleEnvelope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, protocol.ErrorBody{Error: "method not allowed"})
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, protocol.ErrorBody{Error: "envelope too large", Code: protocol.CodeInvalidEnvelope})
			return
		}
		writeJSON(w, http.StatusBadRequest, protocol.ErrorBody{Error: err.Error(), Code: protocol.CodeInvalidEnvelope})
		return
	}

	reply, status, errBody := s.handle(r.Context(), raw)
	if status != http.StatusOK {
		writeJSON(w, status, errBody)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handle parses and dispatches one raw envelope. On failure the returned
// status and error body describe the refusal.
func (s *Server) handle(ctx context.Context, raw []byte) (protocol.Envelope, int, protocol.ErrorBody) {
	env, err := protocol.Parse(raw)
	var reply protocol.Envelope
	if err == nil {
		reply, err = s.replier.Reply(ctx, env)
	}

	status := http.StatusOK
	var errBody protocol.ErrorBody
	if err != nil {
		status, errBody = protocol.ErrorFor(err)
		ev := s.log.Warn()
		if status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		logging.EnvelopeEvent(ev.Err(err).Int("status", status), env.Header.MessageID, env.Header.Sender, env.Header.Target, string(env.Body.Action)).
			Msg("envelope refused")
	} else {
		logging.EnvelopeEvent(s.log.Info(), env.Header.MessageID, env.Header.Sender, env.Header.Target, string(env.Body.Action)).
			Str("outcome", string(reply.Body.Action)).
			Msg("envelope handled")
	}
	s.publish(ctx, env, reply, status, err)
	return reply, status, errBody
}

func (s *Server) publish(ctx context.Context, env, reply protocol.Envelope, status int, err error) {
	ev := trace.Event{
		MessageID: env.Header.MessageID,
		Sender:    env.Header.Sender,
		Target:    env.Header.Target,
		Action:    string(env.Body.Action),
		Outcome:   string(reply.Body.Action),
		Status:    status,
		At:        time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := s.trace.Publish(ctx, ev); perr != nil {
		s.log.Warn().Err(perr).Str("msg_id", ev.MessageID).Msg("trace publish failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
