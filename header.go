package dbus

import "fmt"

// MessageKind is the kind of a DBus message (spec §3 Message.kind).
type MessageKind byte

const (
	MethodCall MessageKind = iota + 1
	MethodReturn
	MessageError
	Signal
)

func (k MessageKind) String() string {
	switch k {
	case MethodCall:
		return "method_call"
	case MethodReturn:
		return "method_return"
	case MessageError:
		return "error"
	case Signal:
		return "signal"
	default:
		return fmt.Sprintf("MessageKind(%d)", byte(k))
	}
}

// Header flag bits (spec §4.3, matching the DBus wire protocol).
const (
	FlagNoReplyExpected      byte = 0x1
	FlagNoAutoStart          byte = 0x2
	FlagAllowInteractiveAuth byte = 0x4
)

// Header field codes, as they appear in the header field array on the
// wire (spec §4.3).
const (
	fieldPath        byte = 1
	fieldInterface   byte = 2
	fieldMember      byte = 3
	fieldErrName     byte = 4
	fieldReplySerial byte = 5
	fieldDestination byte = 6
	fieldSender      byte = 7
	fieldSignature   byte = 8
	fieldNumFDs      byte = 9
)

// valid checks that m is well-formed for its kind (spec §3 Message
// invariants).
func (m *Message) valid() error {
	if m.Serial == 0 {
		return fmt.Errorf("invalid message with zero serial")
	}
	switch m.Kind {
	case 0:
		return fmt.Errorf("invalid message with kind 0")
	case MethodCall:
		if m.Path == "" {
			return fmt.Errorf("missing required header field path")
		}
		if m.Member == "" {
			return fmt.Errorf("missing required header field member")
		}
	case MethodReturn:
		if m.ReplySerial == 0 {
			return fmt.Errorf("missing required header field reply_serial")
		}
	case MessageError:
		if m.ReplySerial == 0 {
			return fmt.Errorf("missing required header field reply_serial")
		}
		if m.ErrName == "" {
			return fmt.Errorf("missing required header field error_name")
		}
	case Signal:
		if m.Path == "" {
			return fmt.Errorf("missing required header field path")
		}
		if m.Interface == "" {
			return fmt.Errorf("missing required header field interface")
		}
		if m.Member == "" {
			return fmt.Errorf("missing required header field member")
		}
	default:
		// Unknown message kinds are suspect, but the protocol requires
		// us to gracefully allow them.
	}
	return nil
}

// WantReply reports whether this message requires a response.
func (m *Message) WantReply() bool {
	return m.Kind == MethodCall && m.Flags&FlagNoReplyExpected == 0
}

// CanInteract reports whether the message's sender is prepared to
// wait for an interactive authorization prompt, if the sender lacks
// the necessary privileges for the message, and the bus or
// destination wish to trigger an interactive prompt.
func (m *Message) CanInteract() bool {
	return m.Kind == MethodCall && m.Flags&FlagAllowInteractiveAuth != 0
}
