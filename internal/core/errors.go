package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the code carried by an error envelope.
type ErrorKind string

const (
	MalformedMessage    ErrorKind = "malformed_message"
	Unauthorized        ErrorKind = "unauthorized"
	UnknownRoom         ErrorKind = "unknown_room"
	UnknownPeer         ErrorKind = "unknown_peer"
	StaleHandshake      ErrorKind = "stale_handshake"
	DuplicateConnection ErrorKind = "duplicate_connection"
	TransportFailure    ErrorKind = "transport_failure"
	RateLimited         ErrorKind = "rate_limited"
	Internal            ErrorKind = "internal"
)

// Error is a routing failure reported back to the originating connection.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind of err, defaulting to Internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the client-facing text of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
