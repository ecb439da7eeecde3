// Package delegation hands tasks to peers and tracks what became of them.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/HsiangNianian/acp/internal/store"
	"github.com/rs/zerolog"
)

// ErrRejected is returned by Delegate when the peer declined the task.
var ErrRejected = errors.New("delegation: task rejected")

// Exchanger sends one envelope built from o and returns the peer's reply.
type Exchanger interface {
	Exchange(ctx context.Context, o protocol.Options) (protocol.Envelope, error)
}

type Option func(*Tracker)

func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker owns the task records of one delegating agent. A record with no
// reply stays pending; there is no timeout.
type Tracker struct {
	ex    Exchanger
	tasks store.TaskStore
	now   func() time.Time
	log   zerolog.Logger

	// mu serializes read-modify-write transitions on records.
	mu sync.Mutex
}

func New(ex Exchanger, tasks store.TaskStore, opts ...Option) *Tracker {
	t := &Tracker{ex: ex, tasks: tasks, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Delegate asks target to perform description. On ACCEPTED it returns the
// task id, preferring the one the peer assigned. On REJECTED the record is
// kept as rejected and ErrRejected is returned with no id.
func (t *Tracker) Delegate(ctx context.Context, target, description string) (string, error) {
	rec := store.TaskRecord{
		TaskID:      protocol.NewID(),
		Description: description,
		Target:      target,
		Status:      store.TaskPending,
		UpdatedAt:   t.now().UTC(),
	}
	if err := t.save(ctx, rec); err != nil {
		return "", err
	}

	payload, err := protocol.JSON(protocol.DelegatePayload{
		TaskID:      rec.TaskID,
		Description: description,
		Status:      string(store.TaskPending),
	})
	if err != nil {
		return "", err
	}
	reply, err := t.ex.Exchange(ctx, protocol.Options{
		Target: target,
		Body:   protocol.Body{Action: protocol.ActionDelegate, Payload: payload},
	})
	if err != nil {
		t.log.Warn().Err(err).Str("task_id", rec.TaskID).Str("target", target).Msg("delegation left pending")
		return "", fmt.Errorf("delegate %s: %w", rec.TaskID, err)
	}

	switch action := reply.Body.Action; {
	case action == protocol.ActionAccepted:
		return t.accept(ctx, rec, reply.Body.TaskID)
	case action == protocol.ActionRejected:
		rec.Status = store.TaskRejected
		rec.UpdatedAt = t.now().UTC()
		if err := t.save(ctx, rec); err != nil {
			return "", err
		}
		t.log.Info().Str("task_id", rec.TaskID).Str("target", target).Msg("delegation rejected")
		return "", ErrRejected
	case !action.Known():
		return "", &protocol.DecodeError{Kind: protocol.UnknownAction, Field: "body.action", Err: fmt.Errorf("%q", string(action))}
	default:
		return "", &protocol.UnexpectedResponseError{
			Operation: "delegate",
			Got:       action,
			Want:      []protocol.Action{protocol.ActionAccepted, protocol.ActionRejected},
		}
	}
}

func (t *Tracker) accept(ctx context.Context, rec store.TaskRecord, assigned string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	local := rec.TaskID
	if assigned != "" {
		rec.TaskID = assigned
	}
	rec.Status = store.TaskAccepted
	rec.UpdatedAt = t.now().UTC()
	// Save under the peer's id before dropping the local one, so a failed
	// save leaves the pending record in place.
	if err := t.tasks.Save(ctx, rec); err != nil {
		return "", fmt.Errorf("save task %s: %w", rec.TaskID, err)
	}
	if rec.TaskID != local {
		if err := t.tasks.Delete(ctx, local); err != nil {
			return "", fmt.Errorf("rekey task %s: %w", local, err)
		}
	}
	t.log.Info().Str("task_id", rec.TaskID).Str("target", rec.Target).Msg("delegation accepted")
	return rec.TaskID, nil
}

// Complete reports the result of taskID with a COMPLETE envelope that
// correlates to the task. It does not change the record; a COMPLETE
// acknowledgement in the reply does, through Completed.
func (t *Tracker) Complete(ctx context.Context, taskID string, result any) (protocol.Envelope, error) {
	raw, err := protocol.JSON(result)
	if err != nil {
		return protocol.Envelope{}, err
	}
	var target string
	if rec, ok, err := t.tasks.Get(ctx, taskID); err != nil {
		return protocol.Envelope{}, fmt.Errorf("load task %s: %w", taskID, err)
	} else if ok {
		target = rec.Target
	}

	reply, err := t.ex.Exchange(ctx, protocol.Options{
		Target:       target,
		CorrelatesTo: taskID,
		Body:         protocol.Body{Action: protocol.ActionComplete, Result: raw},
	})
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("complete %s: %w", taskID, err)
	}
	if reply.Body.Action == protocol.ActionComplete {
		if err := t.Completed(ctx, taskID); err != nil {
			return reply, err
		}
	}
	return reply, nil
}

// Completed moves an accepted task to completed. Unknown ids and tasks in any
// other status are left alone.
func (t *Tracker) Completed(ctx context.Context, taskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok, err := t.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if !ok {
		t.log.Debug().Str("task_id", taskID).Msg("completion for unknown task")
		return nil
	}
	if rec.Status != store.TaskAccepted {
		t.log.Debug().Str("task_id", taskID).Str("status", string(rec.Status)).Msg("completion ignored")
		return nil
	}
	rec.Status = store.TaskCompleted
	rec.UpdatedAt = t.now().UTC()
	if err := t.tasks.Save(ctx, rec); err != nil {
		return fmt.Errorf("save task %s: %w", taskID, err)
	}
	t.log.Info().Str("task_id", taskID).Msg("task completed")
	return nil
}

func (t *Tracker) Get(ctx context.Context, taskID string) (store.TaskRecord, bool, error) {
	return t.tasks.Get(ctx, taskID)
}

func (t *Tracker) List(ctx context.Context) ([]store.TaskRecord, error) {
	return t.tasks.List(ctx)
}

func (t *Tracker) save(ctx context.Context, rec store.TaskRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.tasks.Save(ctx, rec); err != nil {
		return fmt.Errorf("save task %s: %w", rec.TaskID, err)
	}
	return nil
}
