package dbus

import (
	"errors"
	"fmt"

	"github.com/Gao-OS/dbusbroker/fragments"
)

// Wire-level decode errors (spec §4.2, §7 kind 1).
var (
	// ErrInsufficientData is returned by a decoder when the buffer
	// does not yet contain a full value. Callers should retain the
	// bytes and retry once more data has arrived from the transport.
	ErrInsufficientData = fragments.ErrInsufficientData
	// ErrInvalidBoolean is returned when a boolean's wire
	// representation is not 0 or 1.
	ErrInvalidBoolean = errors.New("invalid boolean value")
	// ErrInvalidSignature is returned when a decoded byte sequence is
	// not a well-formed type signature.
	ErrInvalidSignature = errors.New("invalid signature")
)

// TypeError is the error returned when a value cannot be represented
// in, or does not match, a DBus type.
type TypeError struct {
	// Type is a description of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus: type error on %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t fmt.Stringer, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// CallError is the error carried by a DBus "error" message, either
// received from a remote peer or synthesized by the broker itself
// (spec §7).
type CallError struct {
	// Name is the DBus error name, e.g.
	// "org.freedesktop.DBus.Error.ServiceUnknown".
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("dbus error %s", e.Name)
	}
	return fmt.Sprintf("dbus error %s: %s", e.Name, e.Detail)
}

// Well-known DBus error names (spec §7).
const (
	ErrNameServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	ErrNameNoOwner        = "org.freedesktop.DBus.Error.NameHasNoOwner"
	ErrNameUnknownMethod  = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameUnknownIface   = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrNameUnknownProp    = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrNameMatchInvalid   = "org.freedesktop.DBus.Error.MatchRuleInvalid"
	ErrNameMatchNotFound  = "org.freedesktop.DBus.Error.MatchRuleNotFound"
	ErrNameAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	ErrNameFailed         = "org.freedesktop.DBus.Error.Failed"
)
