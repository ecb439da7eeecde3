package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/HsiangNianian/acp/internal/store"
)

type fakePeer struct {
	sent  []protocol.Options
	reply func(protocol.Options) (protocol.Envelope, error)
}

func (p *fakePeer) Exchange(_ context.Context, o protocol.Options) (protocol.Envelope, error) {
	p.sent = append(p.sent, o)
	return p.reply(o)
}

func answer(body protocol.Body) func(protocol.Options) (protocol.Envelope, error) {
	return func(o protocol.Options) (protocol.Envelope, error) {
		return protocol.Build(protocol.Options{Sender: o.Target, Target: "A", Body: body}), nil
	}
}

func onlyTask(t *testing.T, tr *Tracker) store.TaskRecord {
	t.Helper()
	list, err := tr.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("want one record, got %d", len(list))
	}
	return list[0]
}

func TestDelegateRejected(t *testing.T) {
	peer := &fakePeer{reply: answer(protocol.Body{Action: protocol.ActionRejected})}
	tr := New(peer, store.NewMemoryTaskStore())

	id, err := tr.Delegate(context.Background(), "B", "desc")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if id != "" {
		t.Fatalf("rejected delegation returned id %q", id)
	}
	if rec := onlyTask(t, tr); rec.Status != store.TaskRejected {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestDelegateAcceptThenComplete(t *testing.T) {
	peer := &fakePeer{reply: answer(protocol.Body{Action: protocol.ActionAccepted, TaskID: "T1"})}
	tr := New(peer, store.NewMemoryTaskStore())
	ctx := context.Background()

	id, err := tr.Delegate(ctx, "B", "clean data")
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if id != "T1" {
		t.Fatalf("task id = %q, want T1", id)
	}
	rec := onlyTask(t, tr)
	if rec.TaskID != "T1" || rec.Status != store.TaskAccepted || rec.Description != "clean data" || rec.Target != "B" {
		t.Fatalf("record = %+v", rec)
	}

	sent := peer.sent[0]
	var payload protocol.DelegatePayload
	if err := json.Unmarshal(sent.Body.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if sent.Body.Action != protocol.ActionDelegate || payload.Description != "clean data" || payload.Status != "pending" || payload.TaskID == "" {
		t.Fatalf("delegate request = %+v / %+v", sent, payload)
	}

	// The peer only acknowledges transport; the record must not move.
	peer.reply = answer(protocol.Body{Action: protocol.ActionRespond})
	if _, err := tr.Complete(ctx, "T1", map[string]int{"rows": 100}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	out := peer.sent[1]
	if out.CorrelatesTo != "T1" || out.Body.Action != protocol.ActionComplete {
		t.Fatalf("complete request = %+v", out)
	}
	if string(out.Body.Result) != `{"rows":100}` {
		t.Fatalf("result = %s", out.Body.Result)
	}
	if out.Body.Payload != nil || out.Target != "B" {
		t.Fatalf("complete request = %+v", out)
	}
	if rec := onlyTask(t, tr); rec.Status != store.TaskAccepted {
		t.Fatalf("complete must not self-transition, status = %s", rec.Status)
	}
}

func TestCompleteAcknowledgementMarksCompleted(t *testing.T) {
	peer := &fakePeer{reply: answer(protocol.Body{Action: protocol.ActionAccepted, TaskID: "T1"})}
	tr := New(peer, store.NewMemoryTaskStore())
	ctx := context.Background()
	if _, err := tr.Delegate(ctx, "B", "clean data"); err != nil {
		t.Fatalf("delegate: %v", err)
	}

	peer.reply = answer(protocol.Body{Action: protocol.ActionComplete, Result: json.RawMessage(`"task completed"`)})
	reply, err := tr.Complete(ctx, "T1", json.RawMessage(`{"rows":100}`))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply.Body.Action != protocol.ActionComplete {
		t.Fatalf("reply = %+v", reply.Body)
	}
	if rec := onlyTask(t, tr); rec.Status != store.TaskCompleted {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestDelegateKeepsLocalIDWhenPeerAssignsNone(t *testing.T) {
	peer := &fakePeer{reply: answer(protocol.Body{Action: protocol.ActionAccepted})}
	tr := New(peer, store.NewMemoryTaskStore())

	id, err := tr.Delegate(context.Background(), "B", "desc")
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	var payload protocol.DelegatePayload
	_ = json.Unmarshal(peer.sent[0].Body.Payload, &payload)
	if id != payload.TaskID {
		t.Fatalf("id = %q, want local %q", id, payload.TaskID)
	}
}

func TestDelegateUnexpectedReplyLeavesPending(t *testing.T) {
	peer := &fakePeer{reply: answer(protocol.Body{Action: protocol.ActionCounter})}
	tr := New(peer, store.NewMemoryTaskStore())

	_, err := tr.Delegate(context.Background(), "B", "desc")
	if !errors.Is(err, protocol.ErrUnexpectedResponse) {
		t.Fatalf("expected unexpected response, got %v", err)
	}
	if rec := onlyTask(t, tr); rec.Status != store.TaskPending {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestDelegateUnknownReplyIsDecodeFailure(t *testing.T) {
	peer := &fakePeer{reply: answer(protocol.Body{Action: "SURE"})}
	tr := New(peer, store.NewMemoryTaskStore())

	if _, err := tr.Delegate(context.Background(), "B", "desc"); !errors.Is(err, protocol.ErrDecode) {
		t.Fatalf("expected decode failure, got %v", err)
	}
	if rec := onlyTask(t, tr); rec.Status != store.TaskPending {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestDelegateTransportFailureLeavesPending(t *testing.T) {
	peer := &fakePeer{reply: func(protocol.Options) (protocol.Envelope, error) {
		return protocol.Envelope{}, &protocol.TransportError{Op: "post", Err: errors.New("timeout")}
	}}
	tr := New(peer, store.NewMemoryTaskStore())

	id, err := tr.Delegate(context.Background(), "B", "desc")
	if !errors.Is(err, protocol.ErrTransport) || id != "" {
		t.Fatalf("id=%q err=%v", id, err)
	}
	if rec := onlyTask(t, tr); rec.Status != store.TaskPending {
		t.Fatalf("status = %s", rec.Status)
	}
}

func TestCompletedIgnoresUnknownAndRejected(t *testing.T) {
	ctx := context.Background()
	tasks := store.NewMemoryTaskStore()
	_ = tasks.Save(ctx, store.TaskRecord{TaskID: "R", Status: store.TaskRejected})
	tr := New(&fakePeer{}, tasks)

	if err := tr.Completed(ctx, "missing"); err != nil {
		t.Fatalf("unknown id: %v", err)
	}
	if err := tr.Completed(ctx, "R"); err != nil {
		t.Fatalf("rejected: %v", err)
	}
	rec, _, _ := tr.Get(ctx, "R")
	if rec.Status != store.TaskRejected {
		t.Fatalf("rejected task moved to %s", rec.Status)
	}
}

func TestCompletedLeavesPendingTaskPending(t *testing.T) {
	peer := &fakePeer{reply: func(protocol.Options) (protocol.Envelope, error) {
		return protocol.Envelope{}, &protocol.TransportError{Op: "post", Err: errors.New("connection refused")}
	}}
	tr := New(peer, store.NewMemoryTaskStore())
	ctx := context.Background()

	if _, err := tr.Delegate(ctx, "B", "desc"); err == nil {
		t.Fatalf("expected transport failure")
	}
	pending := onlyTask(t, tr)

	if err := tr.Completed(ctx, pending.TaskID); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if rec := onlyTask(t, tr); rec.Status != store.TaskPending {
		t.Fatalf("pending task moved to %s", rec.Status)
	}

	peer.reply = answer(protocol.Body{Action: protocol.ActionComplete})
	if _, err := tr.Complete(ctx, pending.TaskID, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec := onlyTask(t, tr); rec.Status != store.TaskPending {
		t.Fatalf("acknowledged completion moved pending task to %s", rec.Status)
	}
}

// failingSave refuses to store records under one id.
type failingSave struct {
	*store.MemoryTaskStore
	refuse string
}

func (f failingSave) Save(ctx context.Context, rec store.TaskRecord) error {
	if rec.TaskID == f.refuse {
		return errors.New("disk full")
	}
	return f.MemoryTaskStore.Save(ctx, rec)
}

func TestRekeyFailureKeepsPendingRecord(t *testing.T) {
	peer := &fakePeer{reply: answer(protocol.Body{Action: protocol.ActionAccepted, TaskID: "T1"})}
	tr := New(peer, failingSave{MemoryTaskStore: store.NewMemoryTaskStore(), refuse: "T1"})

	if _, err := tr.Delegate(context.Background(), "B", "desc"); err == nil {
		t.Fatalf("expected save failure")
	}
	rec := onlyTask(t, tr)
	if rec.TaskID == "T1" || rec.Status != store.TaskPending {
		t.Fatalf("record = %+v", rec)
	}
}
