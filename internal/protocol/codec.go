package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Options describes an envelope to build. MessageID, Timestamp and
// ProtocolVersion are always filled in by Build.
type Options struct {
	Sender       string
	Target       string
	CorrelatesTo string
	Body         Body
	Metadata     Metadata
}

// Build constructs an envelope with a fresh message id and a timestamp
// captured now. An empty priority becomes normal.
func Build(o Options) Envelope {
	body := o.Body
	if body.Priority == "" {
		body.Priority = PriorityNormal
	}
	return Envelope{
		Header: Header{
			MessageID:       NewID(),
			Sender:          o.Sender,
			Target:          o.Target,
			Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
			ProtocolVersion: Version,
			CorrelatesTo:    o.CorrelatesTo,
		},
		Body:     body,
		Metadata: o.Metadata,
	}
}

// NewID returns a fresh random UUID string.
func NewID() string {
	return uuid.NewString()
}

// JSON encodes v for use as an opaque body value. A nil v yields nil.
func JSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode value: %w", err)
	}
	return b, nil
}

// Encode serializes env to its wire form.
func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode envelope: %w", err)
	}
	return b, nil
}

// Parse decodes and validates an inbound envelope. Only header.sender and
// body.action are mandatory. A present protocol_version must match Version.
func Parse(raw []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, &DecodeError{Kind: MalformedStructure}
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, &DecodeError{Kind: MalformedStructure, Err: err}
	}
	if err := validate(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func validate(env *Envelope) error {
	if env.Header.Sender == "" {
		return &DecodeError{Kind: MissingField, Field: "header.sender"}
	}
	if env.Body.Action == "" {
		return &DecodeError{Kind: MissingField, Field: "body.action"}
	}
	if v := env.Header.ProtocolVersion; v != "" && v != Version {
		return &DecodeError{
			Kind:  VersionMismatch,
			Field: "header.protocol_version",
			Err:   fmt.Errorf("got %q, want %q", v, Version),
		}
	}
	if env.Body.Priority == "" {
		env.Body.Priority = PriorityNormal
	} else if !env.Body.Priority.Valid() {
		return &DecodeError{Kind: InvalidField, Field: "body.priority"}
	}
	return nil
}

// Present reports whether raw carries a value other than JSON null.
func Present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// ParseReply decodes what a peer sent back for a request. A JSON object with
// a non-empty top-level "error" member is reported as a RemoteError with the
// given status; anything else must be a valid envelope.
func ParseReply(status int, raw []byte) (Envelope, error) {
	var probe ErrorBody
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != "" {
		return Envelope{}, &RemoteError{Status: status, Code: probe.Code, Message: probe.Error}
	}
	return Parse(raw)
}

// ErrorFor renders err as the ErrorBody a receiver returns, along with the
// HTTP-style status that goes with it.
func ErrorFor(err error) (int, ErrorBody) {
	var de *DecodeError
	var dispatchErr *DispatchError
	switch {
	case errors.As(err, &de):
		return http.StatusBadRequest, ErrorBody{Error: err.Error(), Code: CodeInvalidEnvelope}
	case errors.As(err, &dispatchErr):
		return http.StatusBadRequest, ErrorBody{Error: "Unsupported action: " + string(dispatchErr.Action), Code: CodeUnsupportedAction}
	default:
		return http.StatusInternalServerError, ErrorBody{Error: err.Error(), Code: CodeInternal}
	}
}
