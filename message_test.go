package dbus

import (
	"testing"

	"github.com/Gao-OS/dbusbroker/fragments"
)

func mustArray(t *testing.T, elem Type, elements ...Value) *Array {
	t.Helper()
	a, err := NewArray(elem, elements)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	return a
}

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			"hello call",
			&Message{
				Kind:        MethodCall,
				Serial:      1,
				Path:        "/org/freedesktop/DBus",
				Interface:   "org.freedesktop.DBus",
				Member:      "Hello",
				Destination: "org.freedesktop.DBus",
			},
		},
		{
			"method return with body",
			&Message{
				Kind:        MethodReturn,
				Serial:      2,
				ReplySerial: 1,
				Destination: ":1.5",
				Sender:      "org.freedesktop.DBus",
				Body:        []Value{String(":1.5")},
			},
		},
		{
			"error reply",
			&Message{
				Kind:        MessageError,
				Serial:      3,
				ReplySerial: 7,
				ErrName:     ErrNameServiceUnknown,
				Destination: ":1.5",
				Body:        []Value{String("The name com.example.Ghost was not provided by any .service files")},
			},
		},
		{
			"signal with array and dict body",
			&Message{
				Kind:      Signal,
				Serial:    4,
				Path:      "/org/freedesktop/DBus",
				Interface: "org.freedesktop.DBus",
				Member:    "NameOwnerChanged",
				Body: []Value{
					String("com.example.Svc"),
					String(":1.1"),
					String(":1.2"),
					mustArray(t, TypeUint16, Uint16(1), Uint16(2), Uint16(3)),
					mustArray(t, mustParseSignature("a{sv}").Elem(),
						&DictEntry{Key: String("k"), Val: &Variant{Value: Uint32(42)}},
					),
				},
			},
		},
		{
			"nested struct body",
			&Message{
				Kind:      Signal,
				Serial:    5,
				Path:      "/",
				Interface: "com.example.Iface",
				Member:    "Event",
				Body: []Value{
					&Struct{Fields: []Value{Int16(2), Bool(true)}},
				},
			},
		},
	}

	for _, order := range []fragments.ByteOrder{fragments.BigEndian, fragments.LittleEndian} {
		for _, tc := range tests {
			t.Run(tc.name+"/"+orderName(order), func(t *testing.T) {
				bs, err := Encode(tc.msg, order)
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}
				got, n, err := Decode(bs)
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if n != len(bs) {
					t.Errorf("Decode consumed %d bytes, want %d", n, len(bs))
				}
				if got.Kind != tc.msg.Kind || got.Serial != tc.msg.Serial || got.Flags != tc.msg.Flags {
					t.Errorf("header mismatch: got %+v, want %+v", got, tc.msg)
				}
				if got.Path != tc.msg.Path || got.Interface != tc.msg.Interface || got.Member != tc.msg.Member ||
					got.ErrName != tc.msg.ErrName || got.ReplySerial != tc.msg.ReplySerial ||
					got.Destination != tc.msg.Destination {
					t.Errorf("header fields mismatch:\n got: %+v\nwant: %+v", got, tc.msg)
				}
				if len(got.Body) != len(tc.msg.Body) {
					t.Fatalf("body length = %d, want %d", len(got.Body), len(tc.msg.Body))
				}
				for i := range got.Body {
					if got.Body[i].Type().String() != tc.msg.Body[i].Type().String() {
						t.Errorf("body[%d] type = %s, want %s", i, got.Body[i].Type(), tc.msg.Body[i].Type())
					}
				}
			})
		}
	}
}

func orderName(o fragments.ByteOrder) string {
	if o == fragments.BigEndian {
		return "big"
	}
	return "little"
}

func TestMessageAlignmentInvariant(t *testing.T) {
	msg := &Message{
		Kind:        MethodCall,
		Serial:      9,
		Path:        "/a",
		Interface:   "a.b",
		Member:      "M",
		Destination: "a.b",
		Body:        []Value{Byte(1), Int64(2)},
	}
	bs, err := Encode(msg, fragments.BigEndian)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// body must start 8-byte aligned: header array padded to 8, so the
	// body offset (len(bs) - bodyLen-ish) must be a multiple of 8. We
	// verify indirectly: Decode must fully consume the buffer.
	_, n, err := Decode(bs)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(bs) {
		t.Errorf("Decode consumed %d of %d bytes", n, len(bs))
	}
}

func TestMessageInsufficientData(t *testing.T) {
	msg := &Message{
		Kind:        MethodCall,
		Serial:      1,
		Path:        "/a",
		Interface:   "a.b",
		Member:      "M",
		Destination: "a.b",
		Body:        []Value{String("hello")},
	}
	bs, err := Encode(msg, fragments.BigEndian)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for n := 0; n < len(bs); n++ {
		if _, _, err := Decode(bs[:n]); err != ErrInsufficientData {
			t.Errorf("Decode(bs[:%d]) = %v, want ErrInsufficientData", n, err)
		}
	}
}

func TestMessageInvalidBoolean(t *testing.T) {
	msg := &Message{
		Kind:        MethodCall,
		Serial:      1,
		Path:        "/a",
		Interface:   "a.b",
		Member:      "M",
		Destination: "a.b",
		Body:        []Value{Bool(true)},
	}
	bs, err := Encode(msg, fragments.BigEndian)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Flip the encoded boolean value (last 4 bytes of the body) to 2.
	bs[len(bs)-1] = 2
	if _, _, err := Decode(bs); err != ErrInvalidBoolean {
		t.Errorf("Decode with corrupted boolean = %v, want ErrInvalidBoolean", err)
	}
}
