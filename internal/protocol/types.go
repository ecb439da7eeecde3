// Package protocol defines the ACP message envelope, its action tags and the
// codec used by both the sending and receiving side of an exchange.
package protocol

import "encoding/json"

// Version is the only protocol version this implementation speaks.
const Version = "1.0"

// Action is the discriminator carried in an envelope body.
type Action string

const (
	ActionRequest   Action = "REQUEST"
	ActionRespond   Action = "RESPOND"
	ActionDelegate  Action = "DELEGATE"
	ActionNegotiate Action = "NEGOTIATE"
	ActionUpdate    Action = "UPDATE"
	ActionComplete  Action = "COMPLETE"
	ActionRegister  Action = "REGISTER"

	// Reply outcomes for negotiation and delegation.
	ActionAccepted Action = "ACCEPTED"
	ActionRejected Action = "REJECTED"
	ActionCounter  Action = "COUNTER"
)

// Known reports whether a is one of the recognized action tags.
func (a Action) Known() bool {
	switch a {
	case ActionRequest, ActionRespond, ActionDelegate, ActionNegotiate,
		ActionUpdate, ActionComplete, ActionRegister,
		ActionAccepted, ActionRejected, ActionCounter:
		return true
	}
	return false
}

// Outcome reports whether a only appears in replies.
func (a Action) Outcome() bool {
	return a == ActionAccepted || a == ActionRejected || a == ActionCounter
}

// Priority is the optional urgency hint of a body.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

// Envelope is the unit of exchange between two agents.
type Envelope struct {
	Header   Header   `json:"header"`
	Body     Body     `json:"body"`
	Metadata Metadata `json:"metadata"`
}

type Header struct {
	MessageID       string `json:"message_id"`
	Sender          string `json:"sender"`
	Target          string `json:"target,omitempty"`
	Timestamp       string `json:"timestamp"`
	ProtocolVersion string `json:"protocol_version"`
	// CorrelatesTo names the request or task this message answers.
	CorrelatesTo string `json:"correlates_to,omitempty"`
}

// Body carries the action and its opaque values. Result, TaskID,
// CounterProposal and Status are only set on replies.
type Body struct {
	Action          Action          `json:"action"`
	Priority        Priority        `json:"priority,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	TaskID          string          `json:"task_id,omitempty"`
	CounterProposal json.RawMessage `json:"counter_proposal,omitempty"`
	Status          string          `json:"status,omitempty"`
}

type Metadata struct {
	Capabilities []string `json:"capabilities"`
	SessionToken string   `json:"session_token,omitempty"`
}

// DelegatePayload is the payload of a DELEGATE request.
type DelegatePayload struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// ErrorBody is what a receiver returns instead of an envelope when it
// refuses or fails to handle one.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorBody.Code.
const (
	CodeInvalidEnvelope   = "INVALID_ENVELOPE"
	CodeUnsupportedAction = "UNSUPPORTED_ACTION"
	CodeInternal          = "INTERNAL_ERROR"
)
