package fragments

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// ByteOrder is the byte order an Encoder/Decoder uses for multi-byte
// values, plus the DBus wire flag byte that announces it.
type ByteOrder interface {
	byteOrder
	dbusFlag() byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type wrapStd struct {
	byteOrder
}

func (w wrapStd) dbusFlag() byte {
	switch w.byteOrder {
	case binary.BigEndian:
		return 'B'
	case binary.LittleEndian:
		return 'l'
	case binary.NativeEndian:
		if cpu.IsBigEndian {
			return 'B'
		}
		return 'l'
	default:
		panic("unknown ByteOrder, how did you manage to make one of those?")
	}
}

var (
	BigEndian    = wrapStd{binary.BigEndian}
	LittleEndian = wrapStd{binary.LittleEndian}
	NativeEndian = wrapStd{binary.NativeEndian}
)

// An Encoder provides utilities to write a DBus wire format message
// to a byte slice.
//
// Methods insert padding as needed to conform to DBus alignment
// rules, except for [Encoder.Write] which outputs bytes verbatim.
type Encoder struct {
	// Order is the byte order to use when encoding multi-byte values.
	Order ByteOrder
	// Out is the encoded output.
	Out []byte
}

// Pad inserts padding bytes as needed to make the message a multiple
// of align bytes. If the message is already correctly aligned, no
// padding is inserted.
func (e *Encoder) Pad(align int) {
	extra := len(e.Out) % align
	if extra == 0 {
		return
	}
	var pad [8]byte
	e.Out = append(e.Out, pad[:align-extra]...)
}

// Write writes bs as-is to the output. It is the caller's
// responsibility to ensure correct padding and encoding.
func (e *Encoder) Write(bs []byte) {
	e.Out = append(e.Out, bs...)
}

// Bytes writes bs as a DBus byte array: a uint32 length followed by
// the raw bytes.
func (e *Encoder) Bytes(bs []byte) {
	e.Pad(4)
	e.Uint32(uint32(len(bs)))
	e.Out = append(e.Out, bs...)
}

// String writes s as a DBus string: a uint32 byte length, the UTF-8
// bytes, and a trailing NUL.
func (e *Encoder) String(s string) {
	e.Pad(4)
	e.Uint32(uint32(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// Signature writes s as a DBus signature: a single length byte, the
// ASCII bytes, and a trailing NUL.
func (e *Encoder) Signature(s string) {
	e.Uint8(uint8(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// Uint8 writes a uint8.
func (e *Encoder) Uint8(u8 uint8) {
	e.Out = append(e.Out, u8)
}

// Uint16 writes a uint16.
func (e *Encoder) Uint16(u16 uint16) {
	e.Pad(2)
	e.Out = e.Order.AppendUint16(e.Out, u16)
}

// Uint32 writes a uint32.
func (e *Encoder) Uint32(u32 uint32) {
	e.Pad(4)
	e.Out = e.Order.AppendUint32(e.Out, u32)
}

// Uint64 writes a uint64.
func (e *Encoder) Uint64(u64 uint64) {
	e.Pad(8)
	e.Out = e.Order.AppendUint64(e.Out, u64)
}

// Array writes an array to the output.
//
// Array elements must be added within the provided elements
// function. The elements function is responsible for padding each
// array element to the correct alignment for the element type.
//
// containsStructs indicates whether the array's elements are structs
// or dict entries, so that the array header can be padded
// accordingly.
func (e *Encoder) Array(containsStructs bool, elements func() error) error {
	e.Pad(4)
	offset := len(e.Out)
	e.Uint32(0)
	if containsStructs {
		e.Pad(8)
	}

	start := len(e.Out)
	err := elements()
	end := len(e.Out)
	e.Order.PutUint32(e.Out[offset:], uint32(end-start))

	return err
}

// Struct writes a struct to the output.
//
// Struct fields must be added within the provided elements function.
func (e *Encoder) Struct(elements func() error) error {
	e.Pad(8)
	return elements()
}

// ByteOrderFlag writes the DBus byte order flag byte ('l' or 'B')
// that matches [Encoder.Order].
func (e *Encoder) ByteOrderFlag() {
	e.Write([]byte{e.Order.dbusFlag()})
}
