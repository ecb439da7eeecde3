package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// AgentEntry is what the receiver knows about a peer agent.
type AgentEntry struct {
	AgentID      string    `json:"agent_id"`
	Capabilities []string  `json:"capabilities"`
	LastSeen     time.Time `json:"last_seen"`
}

// Registry is the server-side agent table. Each call is a single atomic
// operation against the backing store.
type Registry interface {
	Upsert(ctx context.Context, agentID string, capabilities []string) error
	// Touch refreshes last_seen for a known agent and reports whether it was known.
	Touch(ctx context.Context, agentID string) (bool, error)
	Get(ctx context.Context, agentID string) (AgentEntry, bool, error)
}

type MemoryRegistry struct {
	mu     sync.RWMutex
	agents map[string]AgentEntry
	now    func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		agents: make(map[string]AgentEntry),
		now:    time.Now,
	}
}

func (m *MemoryRegistry) Upsert(_ context.Context, agentID string, capabilities []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agentID] = AgentEntry{
		AgentID:      agentID,
		Capabilities: slices.Clone(capabilities),
		LastSeen:     m.now().UTC(),
	}
	return nil
}

func (m *MemoryRegistry) Touch(_ context.Context, agentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.agents[agentID]
	if !ok {
		return false, nil
	}
	entry.LastSeen = m.now().UTC()
	m.agents[agentID] = entry
	return true, nil
}

func (m *MemoryRegistry) Get(_ context.Context, agentID string) (AgentEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.agents[agentID]
	if !ok {
		return AgentEntry{}, false, nil
	}
	entry.Capabilities = slices.Clone(entry.Capabilities)
	return entry, true, nil
}

// Len returns the number of registered agents.
func (m *MemoryRegistry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}
