package fragments_test

import (
	"bytes"
	"testing"

	"github.com/Gao-OS/dbusbroker/fragments"
)

type mustDecoder struct {
	t *testing.T
	*fragments.Decoder
}

func (d *mustDecoder) MustRead(n int, want []byte) {
	got, err := d.Read(n)
	if err != nil {
		d.t.Fatalf("Read(%d) got err: %v", n, err)
	}
	if !bytes.Equal(got, want) {
		d.t.Fatalf("Read(%d) wrong output:\n  got: % x\n want: % x", n, got, want)
	}
}

func (d *mustDecoder) MustBytes(want []byte) {
	got, err := d.Bytes()
	if err != nil {
		d.t.Fatalf("Bytes() got err: %v", err)
	}
	if !bytes.Equal(got, want) {
		d.t.Fatalf("Bytes() wrong output:\n  got: % x\n want: % x", got, want)
	}
}

func (d *mustDecoder) MustString(want string) {
	got, err := d.String()
	if err != nil {
		d.t.Fatalf("String() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("String() got %q, want %q", got, want)
	}
}

func (d *mustDecoder) MustSignature(want string) {
	got, err := d.Signature()
	if err != nil {
		d.t.Fatalf("Signature() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Signature() got %q, want %q", got, want)
	}
}

func (d *mustDecoder) MustUint8(want uint8) {
	got, err := d.Uint8()
	if err != nil {
		d.t.Fatalf("Uint8() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint8() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustUint16(want uint16) {
	got, err := d.Uint16()
	if err != nil {
		d.t.Fatalf("Uint16() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint16() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustUint32(want uint32) {
	got, err := d.Uint32()
	if err != nil {
		d.t.Fatalf("Uint32() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint32() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustUint64(want uint64) {
	got, err := d.Uint64()
	if err != nil {
		d.t.Fatalf("Uint64() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint64() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustArray(containsStructs bool, wantLen int, elem func(int)) {
	gotLen, err := d.Array(containsStructs, func(i int) error {
		elem(i)
		return nil
	})
	if err != nil {
		d.t.Fatalf("Array() got err: %v", err)
	}
	if gotLen != wantLen {
		d.t.Fatalf("Array() got size %d, want %d", gotLen, wantLen)
	}
}

func (d *mustDecoder) MustStruct(fields func()) {
	if err := d.Struct(func() error {
		fields()
		return nil
	}); err != nil {
		d.t.Fatalf("Struct() got err: %v", err)
	}
}

func (d *mustDecoder) MustByteOrderFlag(want fragments.ByteOrder) {
	if err := d.ByteOrderFlag(); err != nil {
		d.t.Fatalf("ByteOrderFlag() got err: %v", err)
	}
	if got := d.Order; got != want {
		d.t.Fatalf("ByteOrderFlag() set byte order %v, want %v", got, want)
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name   string
		in     []byte
		decode func(d *mustDecoder)
	}{
		{
			"raw bytes",
			[]byte{0x01, 0x02, 0x03},
			func(d *mustDecoder) {
				d.MustRead(3, []byte{1, 2, 3})
			},
		},

		{
			"byte array",
			[]byte{
				0x00, 0x00, 0x00, 0x03,
				0x01, 0x02, 0x03,
			},
			func(d *mustDecoder) {
				d.MustBytes([]byte{1, 2, 3})
			},
		},

		{
			"string",
			[]byte{
				0x00, 0x00, 0x00, 0x03,
				0x66, 0x6f, 0x6f,
				0x00,
			},
			func(d *mustDecoder) {
				d.MustString("foo")
			},
		},

		{
			"signature",
			[]byte{
				0x03,
				0x66, 0x6f, 0x6f,
				0x00,
			},
			func(d *mustDecoder) {
				d.MustSignature("foo")
			},
		},

		{
			"uints",
			[]byte{
				0x2a,
				0x00, // pad
				0x00, 0x42,
				0x00, 0x00, 0x00, 0x2a,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
			},
			func(d *mustDecoder) {
				d.MustUint8(42)
				d.MustUint16(66)
				d.MustUint32(42)
				d.MustUint64(66)
			},
		},

		{
			"struct padding",
			[]byte{
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
				0x00, 0x00, 0x00, 0x2a,
			},
			func(d *mustDecoder) {
				d.MustStruct(func() {
					d.MustUint64(66)
				})
				d.MustStruct(func() {
					d.MustUint32(42)
				})
			},
		},

		{
			"array",
			[]byte{
				0x00, 0x00, 0x00, 0x04, // length
				0x00, 0x01,
				0x00, 0x02,
			},
			func(d *mustDecoder) {
				want := []uint16{1, 2}
				d.MustArray(false, 2, func(i int) {
					d.MustUint16(want[i])
				})
			},
		},

		{
			"empty array",
			[]byte{
				0x00, 0x00, 0x00, 0x00, // length
			},
			func(d *mustDecoder) {
				d.MustArray(false, 0, func(int) {})
			},
		},

		{
			"struct array",
			[]byte{
				0x00, 0x00, 0x00, 0x0a, // length
				0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x01,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x02,
			},
			func(d *mustDecoder) {
				want := []uint16{1, 2}
				d.MustArray(true, 2, func(i int) {
					d.MustStruct(func() {
						d.MustUint16(want[i])
					})
				})
			},
		},

		{
			"empty struct array",
			[]byte{
				0x00, 0x00, 0x00, 0x00, // length
				0x00, 0x00, 0x00, 0x00, // pad
			},
			func(d *mustDecoder) {
				d.MustArray(true, 0, func(int) {})
			},
		},

		{
			"byte order flag",
			[]byte{'B', 'l', '?'},
			func(d *mustDecoder) {
				d.MustByteOrderFlag(fragments.BigEndian)
				d.MustByteOrderFlag(fragments.LittleEndian)
				if err := d.ByteOrderFlag(); err == nil {
					t.Fatalf("ByteOrderFlag did not error on invalid byte order")
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := mustDecoder{
				t: t,
				Decoder: &fragments.Decoder{
					Order: fragments.BigEndian,
					In:    tc.in,
				},
			}
			tc.decode(&d)
		})
	}
}

func TestDecoderInsufficientData(t *testing.T) {
	d := fragments.Decoder{Order: fragments.BigEndian, In: []byte{0x00, 0x00}}
	if _, err := d.Uint32(); err != fragments.ErrInsufficientData {
		t.Fatalf("Uint32() on short buffer got %v, want ErrInsufficientData", err)
	}
}
