package dbus

import "fmt"

// Value is a DBus value: one of the basic scalar types, an Array, a
// Struct, a DictEntry, or a Variant (spec §3).
//
// The concrete types implementing Value are Byte, Bool, Int16,
// Uint16, Int32, Uint32, Int64, Uint64, Double, String, ObjectPath,
// Signature, UnixFD, *Array, *Struct, *DictEntry and *Variant.
type Value interface {
	// Type returns the DBus type of the value.
	Type() Type
	isValue()
}

// Byte, Bool, ... are the basic scalar Value kinds. Each wraps a Go
// primitive of matching width and implements [Value].
type (
	Byte       byte
	Bool       bool
	Int16      int16
	Uint16     uint16
	Int32      int32
	Uint32     uint32
	Int64      int64
	Uint64     uint64
	Double     float64
	String     string
	Signature  string // the string form of a Type, as carried on the wire
	UnixFD     uint32 // index into the owning Message's FD list
)

func (Byte) Type() Type      { return TypeByte }
func (Bool) Type() Type      { return TypeBool }
func (Int16) Type() Type     { return TypeInt16 }
func (Uint16) Type() Type    { return TypeUint16 }
func (Int32) Type() Type     { return TypeInt32 }
func (Uint32) Type() Type    { return TypeUint32 }
func (Int64) Type() Type     { return TypeInt64 }
func (Uint64) Type() Type    { return TypeUint64 }
func (Double) Type() Type    { return TypeDouble }
func (String) Type() Type    { return TypeString }
func (Signature) Type() Type { return TypeSignature }
func (UnixFD) Type() Type    { return TypeUnixFD }

func (Byte) isValue()      {}
func (Bool) isValue()      {}
func (Int16) isValue()     {}
func (Uint16) isValue()    {}
func (Int32) isValue()     {}
func (Uint32) isValue()    {}
func (Int64) isValue()     {}
func (Uint64) isValue()    {}
func (Double) isValue()    {}
func (String) isValue()    {}
func (Signature) isValue() {}
func (UnixFD) isValue()    {}

// ObjectPath already implements Type()/isValue() is added here since
// the base type lives in path.go.
func (ObjectPath) Type() Type { return TypeObjectPath }
func (ObjectPath) isValue()   {}

// Array is a DBus array value. All Elements must have type Elem.
type Array struct {
	Elem     Type
	Elements []Value
}

func (a *Array) Type() Type { return ArrayOf(a.Elem) }
func (*Array) isValue()     {}

// NewArray validates that every element matches elemType and returns
// an *Array.
func NewArray(elemType Type, elements []Value) (*Array, error) {
	for i, v := range elements {
		if !typesEqual(v.Type(), elemType) {
			return nil, fmt.Errorf("array element %d has type %s, want %s", i, v.Type(), elemType)
		}
	}
	return &Array{Elem: elemType, Elements: elements}, nil
}

// Struct is a DBus struct value: an ordered list of member values.
type Struct struct {
	Fields []Value
}

func (s *Struct) Type() Type {
	ts := make([]Type, len(s.Fields))
	for i, f := range s.Fields {
		ts[i] = f.Type()
	}
	return StructOf(ts...)
}
func (*Struct) isValue() {}

// DictEntry is a DBus dict entry value. It is only legal as the
// element type of an Array (spec §3).
type DictEntry struct {
	Key Value
	Val Value
}

func (d *DictEntry) Type() Type {
	t, err := DictEntryOf(d.Key.Type(), d.Val.Type())
	if err != nil {
		// Key came from a Value, whose Type() always returns a
		// well-formed basic-or-not type; a non-basic key here is a
		// caller bug, not a recoverable runtime condition.
		panic(err)
	}
	return t
}
func (*DictEntry) isValue() {}

// Variant is a self-describing DBus value: a signature paired with
// the value it describes.
type Variant struct {
	Value Value
}

func (*Variant) Type() Type { return TypeVariant }
func (*Variant) isValue()   {}

// Sig returns the signature of the variant's inner value.
func (v *Variant) Sig() Type { return v.Value.Type() }

func typesEqual(a, b Type) bool {
	return a.String() == b.String()
}
