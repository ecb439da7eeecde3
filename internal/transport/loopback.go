package transport

import (
	"context"

	"github.com/HsiangNianian/acp/internal/protocol"
)

// Replier is the receiving side of an exchange.
type Replier interface {
	Reply(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error)
}

// Loopback hands envelopes to an in-process replier. Both directions go
// through the wire encoding, and refusals come back as RemoteError exactly
// as the HTTP binding reports them.
type Loopback struct {
	peer Replier
}

func NewLoopback(peer Replier) *Loopback {
	return &Loopback{peer: peer}
}

func (t *Loopback) Send(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	raw, err := protocol.Encode(env)
	if err != nil {
		return protocol.Envelope{}, err
	}
	in, err := protocol.Parse(raw)
	if err == nil {
		var reply protocol.Envelope
		reply, err = t.peer.Reply(ctx, in)
		if err == nil {
			out, err := protocol.Encode(reply)
			if err != nil {
				return protocol.Envelope{}, err
			}
			return protocol.ParseReply(200, out)
		}
	}
	status, body := protocol.ErrorFor(err)
	return protocol.Envelope{}, &protocol.RemoteError{Status: status, Code: body.Code, Message: body.Error}
}
