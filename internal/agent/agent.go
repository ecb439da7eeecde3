// Package agent is the sending side of ACP: it builds envelopes for one
// local agent, threads its session through them and routes replies to the
// negotiation machine or the delegation tracker.
package agent

import (
	"context"

	"github.com/HsiangNianian/acp/internal/delegation"
	"github.com/HsiangNianian/acp/internal/logging"
	"github.com/HsiangNianian/acp/internal/negotiation"
	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/HsiangNianian/acp/internal/session"
	"github.com/HsiangNianian/acp/internal/store"
	"github.com/HsiangNianian/acp/internal/transport"
	"github.com/rs/zerolog"
)

const DefaultMaxRounds = 3

type options struct {
	tasks       store.TaskStore
	strategy    negotiation.Strategy
	maxRounds   int
	sessionGate bool
	log         zerolog.Logger
}

type Option func(*options)

func WithTaskStore(s store.TaskStore) Option {
	return func(o *options) { o.tasks = s }
}

func WithStrategy(s negotiation.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

func WithMaxRounds(n int) Option {
	return func(o *options) { o.maxRounds = n }
}

// WithSessionGate only adopts session tokens from replies to this agent's
// own in-flight requests.
func WithSessionGate() Option {
	return func(o *options) { o.sessionGate = true }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Agent drives one local agent's outbound exchanges. Operations block on a
// single transport round-trip and are meant to be called from one goroutine.
type Agent struct {
	id        string
	transport transport.Transport
	session   *session.Manager
	tracker   *delegation.Tracker
	negotiate *negotiation.Negotiator
	maxRounds int
	log       zerolog.Logger
}

func New(id string, capabilities []string, tr transport.Transport, opts ...Option) *Agent {
	o := options{maxRounds: DefaultMaxRounds, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tasks == nil {
		o.tasks = store.NewMemoryTaskStore()
	}
	var sessOpts []session.Option
	if o.sessionGate {
		sessOpts = append(sessOpts, session.WithCorrelationGate())
	}

	a := &Agent{
		id:        id,
		transport: tr,
		session:   session.NewManager(capabilities, sessOpts...),
		maxRounds: o.maxRounds,
		log:       o.log,
	}
	a.tracker = delegation.New(a, o.tasks, delegation.WithLogger(o.log))
	a.negotiate = negotiation.New(a, negotiation.WithStrategy(o.strategy), negotiation.WithLogger(o.log))
	return a
}

func (a *Agent) ID() string { return a.id }

// Exchange builds an envelope from o as this agent, sends it and returns the
// reply. The reply's session token is observed before returning.
func (a *Agent) Exchange(ctx context.Context, o protocol.Options) (protocol.Envelope, error) {
	o.Sender = a.id
	a.session.Attach(&o.Metadata)
	env := protocol.Build(o)

	a.session.Track(env.Header.MessageID)
	defer a.session.Release(env.Header.MessageID)

	logging.EnvelopeEvent(a.log.Debug(), env.Header.MessageID, env.Header.Sender, env.Header.Target, string(env.Body.Action)).
		Msg("send")
	reply, err := a.transport.Send(ctx, env)
	if err != nil {
		logging.EnvelopeEvent(a.log.Warn().Err(err), env.Header.MessageID, env.Header.Sender, env.Header.Target, string(env.Body.Action)).
			Msg("send failed")
		return protocol.Envelope{}, err
	}
	if a.session.Observe(reply) {
		a.log.Debug().Str("msg_id", reply.Header.MessageID).Msg("session token adopted")
	}
	logging.EnvelopeEvent(a.log.Debug(), reply.Header.MessageID, reply.Header.Sender, reply.Header.Target, string(reply.Body.Action)).
		Msg("recv")
	return reply, nil
}

// Send issues a generic envelope with the given action and payload.
func (a *Agent) Send(ctx context.Context, target string, action protocol.Action, payload any) (protocol.Envelope, error) {
	raw, err := protocol.JSON(payload)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return a.Exchange(ctx, protocol.Options{
		Target: target,
		Body:   protocol.Body{Action: action, Payload: raw},
	})
}

// Respond answers the request with id requestID.
func (a *Agent) Respond(ctx context.Context, target, requestID string, result any) (protocol.Envelope, error) {
	raw, err := protocol.JSON(result)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return a.Exchange(ctx, protocol.Options{
		Target:       target,
		CorrelatesTo: requestID,
		Body:         protocol.Body{Action: protocol.ActionRespond, Result: raw},
	})
}

// Update sends a status notification. Only transport success is reported.
func (a *Agent) Update(ctx context.Context, target string, status any) (protocol.Envelope, error) {
	return a.Send(ctx, target, protocol.ActionUpdate, status)
}

// Register announces this agent's capabilities to target.
func (a *Agent) Register(ctx context.Context, target string) (protocol.Envelope, error) {
	return a.Exchange(ctx, protocol.Options{
		Target: target,
		Body:   protocol.Body{Action: protocol.ActionRegister},
	})
}

// Negotiate runs a bounded negotiation. A non-positive maxRounds uses the
// agent's configured limit.
func (a *Agent) Negotiate(ctx context.Context, target string, proposal any, maxRounds int) (negotiation.Result, error) {
	raw, err := protocol.JSON(proposal)
	if err != nil {
		return negotiation.Result{State: negotiation.Failed}, err
	}
	if maxRounds <= 0 {
		maxRounds = a.maxRounds
	}
	return a.negotiate.Negotiate(ctx, target, raw, maxRounds)
}

func (a *Agent) Delegate(ctx context.Context, target, description string) (string, error) {
	return a.tracker.Delegate(ctx, target, description)
}

func (a *Agent) Complete(ctx context.Context, taskID string, result any) (protocol.Envelope, error) {
	return a.tracker.Complete(ctx, taskID, result)
}

// Completed records an inbound completion for taskID. It lets the agent
// serve as the dispatcher's completion observer.
func (a *Agent) Completed(ctx context.Context, taskID string) error {
	return a.tracker.Completed(ctx, taskID)
}

func (a *Agent) Tasks(ctx context.Context) ([]store.TaskRecord, error) {
	return a.tracker.List(ctx)
}

func (a *Agent) Task(ctx context.Context, taskID string) (store.TaskRecord, bool, error) {
	return a.tracker.Get(ctx, taskID)
}

func (a *Agent) StartSession() string { return a.session.Start() }

func (a *Agent) EndSession() { a.session.End() }

func (a *Agent) SessionToken() string { return a.session.Token() }
