package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/HsiangNianian/acp/internal/protocol"
)

type requirement struct {
	field string
	met   func(protocol.Envelope) bool
}

// requirements lists the per-action fields beyond header.sender and
// body.action. Actions without an entry need nothing else.
var requirements = map[protocol.Action][]requirement{
	protocol.ActionRespond:   {{"header.correlates_to", hasCorrelation}},
	protocol.ActionComplete:  {{"header.correlates_to", hasCorrelation}},
	protocol.ActionNegotiate: {{"body.payload", hasPayload}},
	protocol.ActionUpdate:    {{"body.payload", hasPayload}},
	protocol.ActionDelegate:  {{"body.payload", hasPayload}, {"body.payload.description", hasDescription}},
}

func checkRequirements(env protocol.Envelope) error {
	for _, req := range requirements[env.Body.Action] {
		if !req.met(env) {
			return &protocol.DecodeError{Kind: protocol.MissingField, Field: req.field}
		}
	}
	return nil
}

func hasCorrelation(env protocol.Envelope) bool {
	return strings.TrimSpace(env.Header.CorrelatesTo) != ""
}

func hasPayload(env protocol.Envelope) bool {
	return protocol.Present(env.Body.Payload)
}

func hasDescription(env protocol.Envelope) bool {
	var task struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(env.Body.Payload, &task); err != nil {
		// A non-object payload is reported by the DELEGATE handler.
		return true
	}
	return strings.TrimSpace(task.Description) != ""
}
