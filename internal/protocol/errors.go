package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDecode             = errors.New("protocol: decode failed")
	ErrUnsupportedAction  = errors.New("protocol: unsupported action")
	ErrTransport          = errors.New("protocol: transport failure")
	ErrUnexpectedResponse = errors.New("protocol: unexpected response")
)

// DecodeKind classifies a DecodeError.
type DecodeKind int

const (
	MalformedStructure DecodeKind = iota + 1
	MissingField
	InvalidField
	VersionMismatch
	UnknownAction
)

func (k DecodeKind) String() string {
	switch k {
	case MalformedStructure:
		return "malformed structure"
	case MissingField:
		return "missing field"
	case InvalidField:
		return "invalid field"
	case VersionMismatch:
		return "protocol version mismatch"
	case UnknownAction:
		return "unknown action"
	default:
		return "unknown"
	}
}

// DecodeError reports an envelope that could not be accepted as-is.
type DecodeError struct {
	Kind  DecodeKind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("protocol: ")
	b.WriteString(e.Kind.String())
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// DispatchError reports an action with no entry in the dispatch table.
type DispatchError struct {
	Action Action
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("protocol: unsupported action %q", string(e.Action))
}

func (e *DispatchError) Is(target error) bool { return target == ErrUnsupportedAction }

// TransportError wraps a failed round-trip.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is a refusal returned by the peer instead of an envelope.
// Status is the HTTP-style status when the binding has one.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("protocol: remote error status=%d code=%s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("protocol: remote error status=%d: %s", e.Status, e.Message)
}

func (e *RemoteError) Is(target error) bool { return target == ErrTransport }

// UnexpectedResponseError reports a reply whose action is not valid for
// the operation that sent the request.
type UnexpectedResponseError struct {
	Operation string
	Got       Action
	Want      []Action
}

func (e *UnexpectedResponseError) Error() string {
	want := make([]string, len(e.Want))
	for i, a := range e.Want {
		want[i] = string(a)
	}
	return fmt.Sprintf("protocol: %s: unexpected response action %q (want %s)",
		e.Operation, string(e.Got), strings.Join(want, "|"))
}

func (e *UnexpectedResponseError) Is(target error) bool { return target == ErrUnexpectedResponse }
