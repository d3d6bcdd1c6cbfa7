// Package errors defines the structured error types the core surfaces across
// package boundaries: transport failures, malformed wire data, validation
// failures at construction time, and the internal signals (name conflicts,
// probe/resolve timeouts) that drive state transitions.
//
// Every type here implements error and, where it wraps another error,
// Unwrap() error so callers can use errors.Is/errors.As across the chain.
package errors

import "fmt"

// TransportError represents socket bind/send/receive failures. It is fatal
// for the owning component: a Responder stops, a Resolver transitions to
// stopped, a Browser propagates it to its caller.
type TransportError struct {
	Operation string
	Err       error
	Details   string
}

func (e *TransportError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("transport error during %s: %v (%s)", e.Operation, e.Err, e.Details)
	}
	return fmt.Sprintf("transport error during %s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError represents a caller-supplied value rejected at
// construction time. It is never raised from inside an event handler.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error for %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// WireFormatError covers truncated packets and out-of-range compression
// pointers. These are always dropped silently by the transport; they never
// propagate to a caller.
type WireFormatError struct {
	Operation string
	Offset    int
	Message   string
	Err       error
}

func (e *WireFormatError) Error() string {
	if e.Offset >= 0 {
		if e.Err != nil {
			return fmt.Sprintf("wire format error during %s at offset %d: %s (underlying: %v)", e.Operation, e.Offset, e.Message, e.Err)
		}
		return fmt.Sprintf("wire format error during %s at offset %d: %s", e.Operation, e.Offset, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("wire format error during %s: %s (underlying: %v)", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("wire format error during %s: %s", e.Operation, e.Message)
}

func (e *WireFormatError) Unwrap() error { return e.Err }

// ErrTruncatedPacket is returned by the wire codec when a read runs past the
// end of the buffer.
var ErrTruncatedPacket = &WireFormatError{Operation: "decode", Offset: -1, Message: "truncated packet"}

// ErrBadPointer is returned by the wire codec when a name compression
// pointer targets an offset outside the packet or forms a loop.
var ErrBadPointer = &WireFormatError{Operation: "decode name", Offset: -1, Message: "bad compression pointer"}

// MalformedRecordError marks a resource record whose rdata could not be
// decoded for its declared type. Like WireFormatError it is dropped at the
// transport and never surfaced to a caller.
type MalformedRecordError struct {
	RecordType string
	Message    string
	Err        error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: %s", e.RecordType, e.Message)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// NameConflictError is an internal signal raised when a probe or an inbound
// answer reveals another host owns one of our candidate records. It is
// handled in-state by renaming and never escapes a Responder.
type NameConflictError struct {
	Name string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("name conflict on %s", e.Name)
}

// ProbeTimeoutError is emitted by a Responder that could not complete
// probing within the 60-second hard limit.
type ProbeTimeoutError struct {
	Name string
}

func (e *ProbeTimeoutError) Error() string {
	return fmt.Sprintf("could not probe %s within 1 min", e.Name)
}

// ResolveTimeoutError is emitted by a resolver that could not assemble a
// complete service description within its 10-second hard limit.
type ResolveTimeoutError struct {
	FullName string
}

func (e *ResolveTimeoutError) Error() string {
	return fmt.Sprintf("resolve query for %s timed out", e.FullName)
}
