package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAccepted  TaskStatus = "accepted"
	TaskRejected  TaskStatus = "rejected"
	TaskCompleted TaskStatus = "completed"
)

// TaskRecord tracks one delegated unit of work on the delegating side.
type TaskRecord struct {
	TaskID      string     `json:"task_id"`
	Description string     `json:"description"`
	Target      string     `json:"target,omitempty"`
	Status      TaskStatus `json:"status"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskStore persists task records keyed by task id.
type TaskStore interface {
	Save(ctx context.Context, rec TaskRecord) error
	Get(ctx context.Context, taskID string) (TaskRecord, bool, error)
	Delete(ctx context.Context, taskID string) error
	List(ctx context.Context) ([]TaskRecord, error)
}

type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]TaskRecord
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]TaskRecord)}
}

func (m *MemoryTaskStore) Save(_ context.Context, rec TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[rec.TaskID] = rec
	return nil
}

func (m *MemoryTaskStore) Get(_ context.Context, taskID string) (TaskRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[taskID]
	return rec, ok, nil
}

func (m *MemoryTaskStore) Delete(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

// List returns records oldest update first.
func (m *MemoryTaskStore) List(_ context.Context) ([]TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TaskRecord, 0, len(m.tasks))
	for _, rec := range m.tasks {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}
