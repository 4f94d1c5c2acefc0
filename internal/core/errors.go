package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for both control flow and user messaging.
type ErrorKind string

const (
	KindUnknown                  ErrorKind = ""
	KindTransportUnavailable     ErrorKind = "transport-unavailable"
	KindDeviceSelectionCancelled ErrorKind = "device-selection-cancelled"
	KindHandshakeFailure         ErrorKind = "handshake-failure"
	KindIncompletePacket         ErrorKind = "incomplete-packet"
	KindMalformedMessage         ErrorKind = "malformed-message"
	KindSchemaViolation          ErrorKind = "schema-violation"
	KindUnsolicitedDisconnect    ErrorKind = "unsolicited-disconnect"
	KindRemoteAnalysisFailure    ErrorKind = "remote-analysis-failure"
)

// Recoverable reports whether the kind only invalidates a single message.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindIncompletePacket, KindMalformedMessage, KindSchemaViolation:
		return true
	}
	return false
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrTransportUnavailable     = &Error{Kind: KindTransportUnavailable}
	ErrDeviceSelectionCancelled = &Error{Kind: KindDeviceSelectionCancelled}
	ErrHandshakeFailure         = &Error{Kind: KindHandshakeFailure}
	ErrIncompletePacket         = &Error{Kind: KindIncompletePacket}
	ErrMalformedMessage         = &Error{Kind: KindMalformedMessage}
	ErrSchemaViolation          = &Error{Kind: KindSchemaViolation}
	ErrUnsolicitedDisconnect    = &Error{Kind: KindUnsolicitedDisconnect}
	ErrRemoteAnalysisFailure    = &Error{Kind: KindRemoteAnalysisFailure}
)

// Error is a classified error.
type Error struct {
	Kind ErrorKind
	// Op names the operation that failed, e.g. "ble.connect".
	Op string
	// Msg is a human-readable explanation shown to operators.
	Msg string
	Err error
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind ErrorKind, op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can compare against the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
