// Package session threads a session token through an agent's envelopes.
package session

import (
	"slices"

	"github.com/HsiangNianian/acp/internal/protocol"
)

type Option func(*Manager)

// WithCorrelationGate restricts token adoption to inbound envelopes whose
// correlates_to names a message this agent has in flight (see Track).
func WithCorrelationGate() Option {
	return func(m *Manager) {
		m.gated = true
	}
}

// Manager owns one agent's session token. It is not safe for concurrent
// use; an agent drives it from a single logical thread.
//
// By default any inbound envelope carrying a session_token replaces the local
// token (last-writer-wins). That lets any peer redirect the agent's session
// from an unrelated reply; enable WithCorrelationGate when peers are not
// trusted to do that.
type Manager struct {
	token        string
	capabilities []string

	gated    bool
	inFlight map[string]struct{}
}

func NewManager(capabilities []string, opts ...Option) *Manager {
	m := &Manager{
		capabilities: slices.Clone(capabilities),
		inFlight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start issues a fresh token, replacing any current one.
func (m *Manager) Start() string {
	m.token = protocol.NewID()
	return m.token
}

// End clears the token. Calling it without a session is a no-op.
func (m *Manager) End() {
	m.token = ""
}

func (m *Manager) Token() string {
	return m.token
}

func (m *Manager) Active() bool {
	return m.token != ""
}

// Observe adopts the session token of an inbound envelope, if it has one.
// It reports whether the local token was replaced.
func (m *Manager) Observe(env protocol.Envelope) bool {
	token := env.Metadata.SessionToken
	if token == "" {
		return false
	}
	if m.gated {
		if _, ok := m.inFlight[env.Header.CorrelatesTo]; !ok {
			return false
		}
	}
	m.token = token
	return true
}

// Attach copies the agent's capabilities and current token into md.
func (m *Manager) Attach(md *protocol.Metadata) {
	md.Capabilities = slices.Clone(m.capabilities)
	md.SessionToken = m.token
}

// Track marks messageID as awaiting a reply. Only consulted when gated.
func (m *Manager) Track(messageID string) {
	if m.gated {
		m.inFlight[messageID] = struct{}{}
	}
}

func (m *Manager) Release(messageID string) {
	delete(m.inFlight, messageID)
}
