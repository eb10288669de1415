// Package perr defines the typed error taxonomy shared by every reassembly
// and protocol-parsing component in the pipeline. Parsers never
// panic and never abort the pipeline on their own; they return a
// *ParseError, which the caller uses to decide whether to emit a warning,
// drop a record, or (only for Io) fail the enclosing job.
package perr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind closes the set of ways a component can fail to process a record.
type ErrorKind int

const (
	// Io indicates a file or container read failure. Always fatal to the
	// current job.
	Io ErrorKind = iota

	// TruncatedBlock indicates a PCAP/PCAPNG container record ended mid-field.
	TruncatedBlock

	// TruncatedPacket indicates a protocol message ended before its declared
	// length.
	TruncatedPacket

	// Malformed indicates syntactically broken protocol data: bad version
	// bits, inconsistent lengths, and similar.
	Malformed

	// Unsupported indicates data that is recognized but not implemented, e.g.
	// a rare PPID or an exotic IE.
	Unsupported

	// Sanity indicates a value outside policy bounds, e.g. more than 10 IPv6
	// extension headers or more than 100 buffered out-of-order TCP segments.
	Sanity

	// StateViolation indicates an inbound event that is not permitted in the
	// current state machine state, e.g. Delete-Session on an unknown TEID.
	StateViolation

	// Resource indicates a configured cap was exceeded (max_flows,
	// max_tunnels,...); the request is refused but the job continues.
	Resource

	// Cancelled indicates the job's stop was invoked; workers exit cleanly.
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case Io:
		return "Io"
	case TruncatedBlock:
		return "TruncatedBlock"
	case TruncatedPacket:
		return "TruncatedPacket"
	case Malformed:
		return "Malformed"
	case Unsupported:
		return "Unsupported"
	case Sanity:
		return "Sanity"
	case StateViolation:
		return "StateViolation"
	case Resource:
		return "Resource"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ParseError is the concrete error type returned by parsers, reassemblers,
// and state machines throughout the pipeline.
type ParseError struct {
	Kind ErrorKind
	Component string
	cause error
}

func (e *ParseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Kind)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As from both the
// standard library and github.com/pkg/errors keep working.
func (e *ParseError) Unwrap() error {
	return e.cause
}

// New builds a bare ParseError carrying no wrapped cause.
func New(kind ErrorKind, component, msg string) *ParseError {
	return &ParseError{Kind: kind, Component: component, cause: errors.New(msg)}
}

// Wrap attaches kind/component bookkeeping to an existing error without
// losing its message or stack via github.com/pkg/errors.
func Wrap(kind ErrorKind, component string, cause error) *ParseError {
	if cause == nil {
		return nil
	}
	return &ParseError{Kind: kind, Component: component, cause: errors.WithStack(cause)}
}

// Wrapf is Wrap with a formatted extra message appended to cause.
func Wrapf(kind ErrorKind, component string, cause error, format string, args...interface{}) *ParseError {
	if cause == nil {
		return nil
	}
	return &ParseError{Kind: kind, Component: component, cause: errors.Wrapf(cause, format, args...)}
}

// Fatal reports whether an error of this kind should abort the enclosing
// job rather than being localized to the offending record.
func (k ErrorKind) Fatal() bool {
	return k == Io
}

// Is allows errors.Is(err, &perr.ParseError{Kind: perr.Sanity}) style kind
// checks: any *ParseError target matches when its Kind equals this error's.
func (e *ParseError) Is(target error) bool {
	other, ok:= target.(*ParseError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
