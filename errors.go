package tilesim

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into the taxonomy that callers can branch on
// with errors.Is, independent of the operation that produced it.
type Kind string

const (
	KindInvalidArgument      Kind = "invalid_argument"
	KindInvalidState         Kind = "invalid_state"
	KindWrongThread          Kind = "wrong_thread"
	KindBusy                 Kind = "busy"
	KindTimeout              Kind = "timeout"
	KindRingBufferFull       Kind = "ring_buffer_full"
	KindStreamEmpty          Kind = "stream_empty"
	KindUnresolvedIdentifier Kind = "unresolved_identifier"
	KindRPCRuntime           Kind = "rpc_runtime"
	KindInternal             Kind = "internal"
)

// Error is the single structured error type used throughout the emulator
// core. Op names the failing operation (e.g. "sensorlog.push"); Address is
// the tile address involved, if any; Kind classifies the failure for
// programmatic handling; Inner wraps any underlying cause.
type Error struct {
	Op      string
	Address uint16
	HasAddr bool
	Kind    Kind
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Op, e.Msg)
	if e.HasAddr {
		s = fmt.Sprintf("%s (address=%d): %s", e.Op, e.Address, e.Msg)
	}
	if e.Inner != nil {
		s = fmt.Sprintf("%s: %v", s, e.Inner)
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is allows errors.Is(err, &Error{Kind: KindBusy}) style matching on Kind
// alone, ignoring Op/Msg/Inner.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// NewError constructs a plain Error with no tile address attached.
func NewError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewTileError constructs an Error scoped to a specific tile address.
func NewTileError(op string, address uint16, kind Kind, msg string) *Error {
	return &Error{Op: op, Address: address, HasAddr: true, Kind: kind, Msg: msg}
}

// WrapError wraps an existing error with an operation name and kind.
func WrapError(op string, kind Kind, inner error) *Error {
	return &Error{Op: op, Kind: kind, Msg: inner.Error(), Inner: inner}
}

// IsKind reports whether err (or anything it wraps) carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// sentinels usable directly with errors.Is(err, tilesim.ErrBusy) and so on.
var (
	ErrBusy    = &Error{Kind: KindBusy}
	ErrTimeout = &Error{Kind: KindTimeout}
)
