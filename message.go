package dbus

import (
	"os"
	"strings"

	"github.com/Gao-OS/dbusbroker/fragments"
)

// Message is a single DBus protocol message: a header plus an ordered
// body of typed values and, when file descriptor passing is active,
// a list of descriptors carried out of band (spec §3 Message).
type Message struct {
	Kind   MessageKind
	Serial uint32
	Flags  byte

	Path        ObjectPath
	Interface   string
	Member      string
	ErrName     string
	ReplySerial uint32
	Destination string
	Sender      string

	// NumFDs is the unix_fds header field: the number of descriptors
	// the sender declares it attached to this message. Encode writes
	// len(FDs) when FDs is non-empty and NumFDs as given otherwise;
	// Decode populates it from the wire. The transport layer is
	// responsible for attaching FDs to match it.
	NumFDs uint32

	// Body is the message's argument list, in signature order.
	Body []Value

	// FDs holds the file descriptors carried alongside this message,
	// owned by whoever currently holds the message. Encode/Decode
	// never touch the descriptors themselves; they only read and
	// write NumFDs. The peer/transport layer fills FDs in after a
	// successful Decode, and is responsible for closing them once the
	// message has been forwarded, dropped, or delivered.
	FDs []*os.File
}

// Signature returns the wire type signature of m's body.
func (m *Message) Signature() string {
	var b strings.Builder
	for _, v := range m.Body {
		b.WriteString(v.Type().String())
	}
	return b.String()
}

// Encode renders m as a complete DBus wire message in the given byte
// order (spec §4.3). Encode is a pure function: it allocates and
// returns a new buffer, and never blocks on I/O.
func Encode(m *Message, order fragments.ByteOrder) ([]byte, error) {
	if err := m.valid(); err != nil {
		return nil, err
	}

	body := fragments.Encoder{Order: order}
	for _, v := range m.Body {
		if err := encodeValue(&body, v); err != nil {
			return nil, err
		}
	}

	hdr := fragments.Encoder{Order: order}
	hdr.ByteOrderFlag()
	hdr.Uint8(byte(m.Kind))
	hdr.Uint8(m.Flags)
	hdr.Uint8(1) // protocol version
	hdr.Uint32(uint32(len(body.Out)))
	hdr.Uint32(m.Serial)

	numFDs := m.NumFDs
	if n := len(m.FDs); n > 0 {
		numFDs = uint32(n)
	}
	if err := encodeHeaderFields(&hdr, m, numFDs); err != nil {
		return nil, err
	}
	hdr.Pad(8)

	return append(hdr.Out, body.Out...), nil
}

func encodeHeaderFields(e *fragments.Encoder, m *Message, numFDs uint32) error {
	return e.Array(true, func() error {
		field := func(code byte, v Value) error {
			return e.Struct(func() error {
				e.Uint8(code)
				return encodeValue(e, &Variant{Value: v})
			})
		}
		if m.Path != "" {
			if err := field(fieldPath, m.Path); err != nil {
				return err
			}
		}
		if m.Interface != "" {
			if err := field(fieldInterface, String(m.Interface)); err != nil {
				return err
			}
		}
		if m.Member != "" {
			if err := field(fieldMember, String(m.Member)); err != nil {
				return err
			}
		}
		if m.ErrName != "" {
			if err := field(fieldErrName, String(m.ErrName)); err != nil {
				return err
			}
		}
		if m.ReplySerial != 0 {
			if err := field(fieldReplySerial, Uint32(m.ReplySerial)); err != nil {
				return err
			}
		}
		if m.Destination != "" {
			if err := field(fieldDestination, String(m.Destination)); err != nil {
				return err
			}
		}
		if m.Sender != "" {
			if err := field(fieldSender, String(m.Sender)); err != nil {
				return err
			}
		}
		if sig := m.Signature(); sig != "" {
			if err := field(fieldSignature, Signature(sig)); err != nil {
				return err
			}
		}
		if numFDs != 0 {
			if err := field(fieldNumFDs, Uint32(numFDs)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Decode reads one complete message from the front of buf. It returns
// the message and the number of bytes consumed from buf.
//
// If buf does not yet hold a complete message, Decode returns
// [ErrInsufficientData] and the caller should retry once more bytes
// have arrived from the transport. Decode is a pure function: it owns
// no buffers and never blocks.
func Decode(buf []byte) (*Message, int, error) {
	d := fragments.Decoder{Order: fragments.BigEndian, In: buf}

	if err := d.ByteOrderFlag(); err != nil {
		return nil, 0, err
	}
	kind, err := d.Uint8()
	if err != nil {
		return nil, 0, err
	}
	flags, err := d.Uint8()
	if err != nil {
		return nil, 0, err
	}
	if _, err := d.Uint8(); err != nil { // protocol version, unused
		return nil, 0, err
	}
	bodyLen, err := d.Uint32()
	if err != nil {
		return nil, 0, err
	}
	serial, err := d.Uint32()
	if err != nil {
		return nil, 0, err
	}

	m := &Message{Kind: MessageKind(kind), Flags: flags, Serial: serial}

	var sig string
	if _, err := d.Array(true, func(int) error {
		return d.Struct(func() error {
			code, err := d.Uint8()
			if err != nil {
				return err
			}
			v, err := decodeVariant(&d)
			if err != nil {
				return err
			}
			switch code {
			case fieldPath:
				if p, ok := v.(ObjectPath); ok {
					m.Path = p
				}
			case fieldInterface:
				if s, ok := v.(String); ok {
					m.Interface = string(s)
				}
			case fieldMember:
				if s, ok := v.(String); ok {
					m.Member = string(s)
				}
			case fieldErrName:
				if s, ok := v.(String); ok {
					m.ErrName = string(s)
				}
			case fieldReplySerial:
				if u, ok := v.(Uint32); ok {
					m.ReplySerial = uint32(u)
				}
			case fieldDestination:
				if s, ok := v.(String); ok {
					m.Destination = string(s)
				}
			case fieldSender:
				if s, ok := v.(String); ok {
					m.Sender = string(s)
				}
			case fieldSignature:
				if s, ok := v.(Signature); ok {
					sig = string(s)
				}
			case fieldNumFDs:
				if u, ok := v.(Uint32); ok {
					m.NumFDs = uint32(u)
				}
			default:
				// Unrecognized header fields are ignored, per protocol.
			}
			return nil
		})
	}); err != nil {
		return nil, 0, err
	}

	if err := d.Pad(8); err != nil {
		return nil, 0, err
	}

	if uint64(d.Remaining()) < uint64(bodyLen) {
		return nil, 0, ErrInsufficientData
	}

	bodyTypes, err := ParseTypes(sig)
	if err != nil {
		return nil, 0, typeErr(nil, "invalid body signature %q: %v", sig, err)
	}
	for _, t := range bodyTypes {
		v, err := decodeValue(&d, t)
		if err != nil {
			return nil, 0, err
		}
		m.Body = append(m.Body, v)
	}

	if err := m.valid(); err != nil {
		return nil, 0, err
	}

	return m, len(buf) - d.Remaining(), nil
}
