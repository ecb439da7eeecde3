package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *clientConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// HandleWS upgrades the request and answers every envelope frame with a reply
// envelope frame, or an error body frame when the envelope is refused.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade ws failed")
		return
	}
	conn.SetReadLimit(maxEnvelopeBytes)
	client := &clientConn{conn: conn}

	s.connMu.Lock()
	s.conns[client] = struct{}{}
	active := len(s.conns)
	s.connMu.Unlock()

	s.log.Info().Str("remote", r.RemoteAddr).Int("active_conns", active).Msg("ws connected")
	s.readConn(r.Context(), client)
}

func (s *Server) readConn(ctx context.Context, client *clientConn) {
	defer func() {
		s.connMu.Lock()
		delete(s.conns, client)
		active := len(s.conns)
		s.connMu.Unlock()
		_ = client.conn.Close()
		s.log.Info().Int("active_conns", active).Msg("ws disconnected")
	}()

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Msg("ws read failed")
			}
			return
		}
		reply, status, errBody := s.handle(ctx, raw)
		var out any = reply
		if status != http.StatusOK {
			out = errBody
		}
		if err := client.WriteJSON(out); err != nil {
			s.log.Warn().Err(err).Msg("ws write failed")
			return
		}
	}
}

// Conns reports the number of open WebSocket sessions.
func (s *Server) Conns() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.conns)
}
