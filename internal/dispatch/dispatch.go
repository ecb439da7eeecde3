// Package dispatch maps inbound envelopes to outcomes and builds the reply
// envelope a receiving agent sends back.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/HsiangNianian/acp/internal/logging"
	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/HsiangNianian/acp/internal/store"
	"github.com/rs/zerolog"
)

// Outcome is the reply-side content produced for one inbound envelope.
type Outcome struct {
	Action          protocol.Action
	Result          json.RawMessage
	TaskID          string
	CounterProposal json.RawMessage
	Status          string
}

type (
	RequestHandler    func(ctx context.Context, env protocol.Envelope) (Outcome, error)
	NegotiationPolicy func(ctx context.Context, env protocol.Envelope) (Outcome, error)
	DelegationPolicy  func(ctx context.Context, env protocol.Envelope, task protocol.DelegatePayload) (Outcome, error)
)

// CompletionObserver is told about inbound COMPLETE envelopes.
type CompletionObserver interface {
	Completed(ctx context.Context, taskID string) error
}

type Option func(*Dispatcher)

func WithCapabilities(capabilities []string) Option {
	return func(d *Dispatcher) {
		d.capabilities = slices.Clone(capabilities)
	}
}

func WithRequestHandler(h RequestHandler) Option {
	return func(d *Dispatcher) {
		d.request = h
	}
}

func WithNegotiationPolicy(p NegotiationPolicy) Option {
	return func(d *Dispatcher) {
		d.negotiate = p
	}
}

func WithDelegationPolicy(p DelegationPolicy) Option {
	return func(d *Dispatcher) {
		d.delegate = p
	}
}

func WithCompletionObserver(o CompletionObserver) Option {
	return func(d *Dispatcher) {
		d.completions = o
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}

type Dispatcher struct {
	agentID      string
	capabilities []string
	registry     store.Registry

	request     RequestHandler
	negotiate   NegotiationPolicy
	delegate    DelegationPolicy
	completions CompletionObserver

	log zerolog.Logger
}

func New(agentID string, registry store.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		agentID:   agentID,
		registry:  registry,
		request:   AcknowledgeRequest,
		negotiate: AcceptProposal,
		delegate:  AcceptTask,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) AgentID() string {
	return d.agentID
}

// Dispatch runs env through the action table. Reply-only and unknown tags fail
// with a DispatchError before anything is touched. On success the sender's
// last_seen is refreshed if it is registered. Envelopes are not deduplicated.
func (d *Dispatcher) Dispatch(ctx context.Context, env protocol.Envelope) (Outcome, error) {
	action := env.Body.Action
	logging.EnvelopeEvent(d.log.Debug(), env.Header.MessageID, env.Header.Sender, env.Header.Target, string(action)).
		Msg("dispatch")

	var handle func(context.Context, protocol.Envelope) (Outcome, error)
	switch action {
	case protocol.ActionRequest:
		handle = d.request
	case protocol.ActionRespond:
		handle = acknowledgeResponse
	case protocol.ActionDelegate:
		handle = d.handleDelegate
	case protocol.ActionNegotiate:
		handle = d.negotiate
	case protocol.ActionUpdate:
		handle = acknowledgeUpdate
	case protocol.ActionComplete:
		handle = d.handleComplete
	case protocol.ActionRegister:
		handle = d.handleRegister
	default:
		d.log.Warn().Str("msg_id", env.Header.MessageID).Str("action", string(action)).Msg("unsupported action")
		return Outcome{}, &protocol.DispatchError{Action: action}
	}

	if err := checkRequirements(env); err != nil {
		return Outcome{}, err
	}
	out, err := handle(ctx, env)
	if err != nil {
		return Outcome{}, err
	}
	if action != protocol.ActionRegister {
		if _, err := d.registry.Touch(ctx, env.Header.Sender); err != nil {
			return Outcome{}, fmt.Errorf("touch %s: %w", env.Header.Sender, err)
		}
	}
	return out, nil
}

// Reply dispatches env and wraps the outcome in a reply envelope addressed
// back to the sender. The inbound session token is echoed.
func (d *Dispatcher) Reply(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	out, err := d.Dispatch(ctx, env)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Build(protocol.Options{
		Sender:       d.agentID,
		Target:       env.Header.Sender,
		CorrelatesTo: env.Header.MessageID,
		Body: protocol.Body{
			Action:          out.Action,
			Result:          out.Result,
			TaskID:          out.TaskID,
			CounterProposal: out.CounterProposal,
			Status:          out.Status,
		},
		Metadata: protocol.Metadata{
			Capabilities: slices.Clone(d.capabilities),
			SessionToken: env.Metadata.SessionToken,
		},
	}), nil
}

func (d *Dispatcher) handleDelegate(ctx context.Context, env protocol.Envelope) (Outcome, error) {
	var task protocol.DelegatePayload
	if err := json.Unmarshal(env.Body.Payload, &task); err != nil {
		return Outcome{}, &protocol.DecodeError{Kind: protocol.InvalidField, Field: "body.payload", Err: err}
	}
	return d.delegate(ctx, env, task)
}

func (d *Dispatcher) handleComplete(ctx context.Context, env protocol.Envelope) (Outcome, error) {
	if d.completions != nil {
		if err := d.completions.Completed(ctx, env.Header.CorrelatesTo); err != nil {
			return Outcome{}, fmt.Errorf("record completion %s: %w", env.Header.CorrelatesTo, err)
		}
	}
	return Outcome{Action: protocol.ActionComplete, Result: jsonString("task completed")}, nil
}

func (d *Dispatcher) handleRegister(ctx context.Context, env protocol.Envelope) (Outcome, error) {
	if err := d.registry.Upsert(ctx, env.Header.Sender, env.Metadata.Capabilities); err != nil {
		return Outcome{}, fmt.Errorf("register %s: %w", env.Header.Sender, err)
	}
	d.log.Info().Str("agent_id", env.Header.Sender).Strs("capabilities", env.Metadata.Capabilities).Msg("agent registered")
	return Outcome{Action: protocol.ActionRegister, Status: "registered"}, nil
}

// AcknowledgeRequest is the default REQUEST handler.
func AcknowledgeRequest(_ context.Context, _ protocol.Envelope) (Outcome, error) {
	return Outcome{Action: protocol.ActionRespond, Result: jsonString("request received")}, nil
}

// AcceptProposal is the default NEGOTIATE policy: agree to whatever was offered.
func AcceptProposal(_ context.Context, env protocol.Envelope) (Outcome, error) {
	return Outcome{Action: protocol.ActionAccepted, Result: env.Body.Payload}, nil
}

// AcceptTask is the default DELEGATE policy: accept under a freshly minted task id.
func AcceptTask(_ context.Context, _ protocol.Envelope, _ protocol.DelegatePayload) (Outcome, error) {
	return Outcome{Action: protocol.ActionAccepted, TaskID: protocol.NewID()}, nil
}

func acknowledgeResponse(_ context.Context, _ protocol.Envelope) (Outcome, error) {
	return Outcome{Action: protocol.ActionRespond, Result: jsonString("response received")}, nil
}

func acknowledgeUpdate(_ context.Context, _ protocol.Envelope) (Outcome, error) {
	return Outcome{Action: protocol.ActionUpdate, Status: "update received"}, nil
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
