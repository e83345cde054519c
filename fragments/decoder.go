package fragments

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned by Decoder methods when In does not
// contain enough bytes to complete the requested read. Callers should
// retain the bytes already accumulated and retry the decode once more
// data has arrived.
var ErrInsufficientData = errors.New("insufficient data")

// A Decoder provides utilities to read a DBus wire format message out
// of a byte slice.
//
// Decoder never blocks and owns no I/O: it reads from In, a buffer
// the caller fills from the transport. Methods advance the read
// cursor as needed to account for the padding required by DBus
// alignment rules, except for [Decoder.Read] which reads bytes
// verbatim. Any method that would read past the end of In returns
// [ErrInsufficientData]; padding or a length prefix consumed before
// the short read stays consumed, so callers restart the decode from
// their own copy of the buffer rather than reuse the Decoder.
type Decoder struct {
	// Order is the byte order to use when reading multi-byte values.
	Order ByteOrder
	// In is the unconsumed input. Decoder methods advance it as they
	// read.
	In []byte

	// offset is the number of bytes consumed so far, used to compute
	// alignment relative to the start of the message.
	offset int
}

// Remaining returns the number of unconsumed bytes left in In.
func (d *Decoder) Remaining() int {
	return len(d.In)
}

// Pad consumes padding bytes as needed to make the next read happen
// at a multiple of align bytes. If the decoder is already correctly
// aligned, no bytes are consumed.
func (d *Decoder) Pad(align int) error {
	extra := d.offset % align
	if extra == 0 {
		return nil
	}
	skip := align - extra
	if len(d.In) < skip {
		return ErrInsufficientData
	}
	d.In = d.In[skip:]
	d.offset += skip
	return nil
}

// Read reads n bytes, with no framing or padding.
func (d *Decoder) Read(n int) ([]byte, error) {
	if len(d.In) < n {
		return nil, ErrInsufficientData
	}
	bs := d.In[:n]
	d.In = d.In[n:]
	d.offset += n
	return bs, nil
}

// Bytes reads a DBus byte array.
func (d *Decoder) Bytes() ([]byte, error) {
	ln, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return d.Read(int(ln))
}

// String reads a DBus string.
func (d *Decoder) String() (string, error) {
	ln, err := d.Uint32()
	if err != nil {
		return "", err
	}
	ret, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	return string(ret[:len(ret)-1]), nil
}

// Signature reads a DBus signature string.
func (d *Decoder) Signature() (string, error) {
	ln, err := d.Uint8()
	if err != nil {
		return "", err
	}
	ret, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	return string(ret[:len(ret)-1]), nil
}

// Uint8 reads a uint8.
func (d *Decoder) Uint8() (uint8, error) {
	bs, err := d.Read(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// Uint16 reads a uint16.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.Pad(2); err != nil {
		return 0, err
	}
	bs, err := d.Read(2)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint16(bs), nil
}

// Uint32 reads a uint32.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.Pad(4); err != nil {
		return 0, err
	}
	bs, err := d.Read(4)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint32(bs), nil
}

// Uint64 reads a uint64.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.Pad(8); err != nil {
		return 0, err
	}
	bs, err := d.Read(8)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint64(bs), nil
}

// Array reads an array header and invokes readElement once per
// element found, passing the element's index.
//
// readElement must completely consume exactly its element's bytes
// from the Decoder. Array stops calling readElement once the declared
// array length has been consumed and returns the number of elements
// processed.
//
// containsStructs indicates whether the array's elements are structs
// or dict entries, so the decoder consumes array header padding
// appropriately even for an empty array.
func (d *Decoder) Array(containsStructs bool, readElement func(int) error) (int, error) {
	ln, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if containsStructs {
		if err := d.Pad(8); err != nil {
			return 0, err
		}
	}
	if ln == 0 {
		return 0, nil
	}
	if uint64(len(d.In)) < uint64(ln) {
		return 0, ErrInsufficientData
	}

	full := d.In
	d.In = full[:ln:ln]
	end := d.offset + int(ln)

	idx := 0
	for d.offset < end {
		if err := readElement(idx); err != nil {
			return idx, err
		}
		idx++
	}
	if d.offset != end {
		return idx, fmt.Errorf("array element reader overran array bounds by %d bytes", d.offset-end)
	}
	d.In = full[ln:]
	return idx, nil
}

// Struct consumes struct padding, then reads the struct's fields
// within the provided fields function.
func (d *Decoder) Struct(fields func() error) error {
	if err := d.Pad(8); err != nil {
		return err
	}
	return fields()
}

// ByteOrderFlag reads a DBus byte order flag byte, and sets
// [Decoder.Order] to match it.
func (d *Decoder) ByteOrderFlag() error {
	v, err := d.Uint8()
	if err != nil {
		return err
	}
	switch v {
	case 'B':
		d.Order = BigEndian
	case 'l':
		d.Order = LittleEndian
	default:
		return fmt.Errorf("unknown byte order flag %q", v)
	}
	return nil
}
