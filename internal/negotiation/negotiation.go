// Package negotiation runs a bounded NEGOTIATE exchange with one peer.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/rs/zerolog"
)

// ErrInvalidRounds is returned when max rounds is not positive.
var ErrInvalidRounds = errors.New("negotiation: max rounds must be positive")

// Exchanger sends one envelope built from o and returns the peer's reply.
// Sender and metadata are filled in by the implementation.
type Exchanger interface {
	Exchange(ctx context.Context, o protocol.Options) (protocol.Envelope, error)
}

type State int

const (
	Proposing State = iota
	Accepted
	Rejected
	Exhausted
	TransportFailed
	Failed
)

func (s State) String() string {
	switch s {
	case Proposing:
		return "proposing"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Exhausted:
		return "exhausted"
	case TransportFailed:
		return "transport_failed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Strategy picks the next proposal after the peer countered.
type Strategy func(current, counter json.RawMessage) json.RawMessage

// Verbatim adopts the counter-proposal unchanged.
func Verbatim(_, counter json.RawMessage) json.RawMessage {
	return counter
}

// Result is the terminal state of one negotiation.
type Result struct {
	State State
	// Rounds is the number of round-trips performed.
	Rounds int
	// Proposal is the last proposal sent.
	Proposal json.RawMessage
	// Result is the accepted result; nil unless State is Accepted.
	Result json.RawMessage
}

type Option func(*Negotiator)

func WithStrategy(s Strategy) Option {
	return func(n *Negotiator) {
		if s != nil {
			n.strategy = s
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(n *Negotiator) {
		n.log = l
	}
}

type Negotiator struct {
	ex       Exchanger
	strategy Strategy
	log      zerolog.Logger
}

func New(ex Exchanger, opts ...Option) *Negotiator {
	n := &Negotiator{ex: ex, strategy: Verbatim, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Negotiate proposes to target and follows counter-proposals for at most
// maxRounds round-trips. Exhausted and Rejected are returned without error.
// Transport and decode failures, and replies that are not valid for a
// negotiation, end the exchange with an error; nothing is retried.
func (n *Negotiator) Negotiate(ctx context.Context, target string, proposal json.RawMessage, maxRounds int) (Result, error) {
	if maxRounds <= 0 {
		return Result{State: Failed}, ErrInvalidRounds
	}
	res := Result{State: Proposing, Proposal: proposal}

	for res.Rounds < maxRounds {
		reply, err := n.ex.Exchange(ctx, protocol.Options{
			Target: target,
			Body:   protocol.Body{Action: protocol.ActionNegotiate, Payload: res.Proposal},
		})
		res.Rounds++
		if err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				res.State = Failed
			} else {
				res.State = TransportFailed
			}
			n.finish(target, res, err)
			return res, fmt.Errorf("negotiate round %d: %w", res.Rounds, err)
		}

		action := reply.Body.Action
		switch {
		case action == protocol.ActionAccepted:
			res.State = Accepted
			res.Result = reply.Body.Result
			n.finish(target, res, nil)
			return res, nil
		case action == protocol.ActionRejected:
			res.State = Rejected
			n.finish(target, res, nil)
			return res, nil
		case action == protocol.ActionCounter:
			if !protocol.Present(reply.Body.CounterProposal) {
				res.State = Failed
				err := &protocol.DecodeError{Kind: protocol.MissingField, Field: "body.counter_proposal"}
				n.finish(target, res, err)
				return res, err
			}
			res.Proposal = n.strategy(res.Proposal, reply.Body.CounterProposal)
			n.log.Debug().Str("target", target).Int("round", res.Rounds).Msg("counter-proposal received")
		case !action.Known():
			res.State = Failed
			err := &protocol.DecodeError{Kind: protocol.UnknownAction, Field: "body.action", Err: fmt.Errorf("%q", string(action))}
			n.finish(target, res, err)
			return res, err
		default:
			res.State = Failed
			err := &protocol.UnexpectedResponseError{
				Operation: "negotiate",
				Got:       action,
				Want:      []protocol.Action{protocol.ActionAccepted, protocol.ActionRejected, protocol.ActionCounter},
			}
			n.finish(target, res, err)
			return res, err
		}
	}

	res.State = Exhausted
	n.finish(target, res, nil)
	return res, nil
}

func (n *Negotiator) finish(target string, res Result, err error) {
	ev := n.log.Info()
	if err != nil {
		ev = n.log.Warn().Err(err)
	}
	ev.Str("target", target).Str("state", res.State.String()).Int("rounds", res.Rounds).Msg("negotiation finished")
}
