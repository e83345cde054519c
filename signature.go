package dbus

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of a [Type]: a basic scalar, one of the
// three container shapes (array, struct, dict entry), or a variant.
type Kind byte

const (
	KindByte       Kind = 'y'
	KindBool       Kind = 'b'
	KindInt16      Kind = 'n'
	KindUint16     Kind = 'q'
	KindInt32      Kind = 'i'
	KindUint32     Kind = 'u'
	KindInt64      Kind = 'x'
	KindUint64     Kind = 't'
	KindDouble     Kind = 'd'
	KindString     Kind = 's'
	KindObjectPath Kind = 'o'
	KindSignature  Kind = 'g'
	KindUnixFD     Kind = 'h'

	KindArray     Kind = 'a'
	KindStruct    Kind = 'r' // synthetic, written as "(...)"
	KindDictEntry Kind = 'e' // synthetic, written as "{...}"
	KindVariant   Kind = 'v'
)

func (k Kind) isBasic() bool {
	switch k {
	case KindByte, KindBool, KindInt16, KindUint16, KindInt32, KindUint32,
		KindInt64, KindUint64, KindDouble, KindString, KindObjectPath,
		KindSignature, KindUnixFD:
		return true
	}
	return false
}

// Type is a node in a parsed DBus type signature. The zero Type is
// not valid; construct Types with [ParseSignature] or [ParseTypes].
type Type struct {
	kind Kind

	// elem is the element type for KindArray, the value type for
	// KindDictEntry.
	elem *Type
	// key is the key type for KindDictEntry.
	key *Type
	// fields are the member types, in order, for KindStruct.
	fields []Type
}

// Kind reports t's shape.
func (t Type) Kind() Kind { return t.kind }

// Elem returns the element type of an array, or the value type of a
// dict entry. It panics if t is not one of those kinds.
func (t Type) Elem() Type {
	if t.kind != KindArray && t.kind != KindDictEntry {
		panic(fmt.Sprintf("Elem called on non-array, non-dict-entry type %q", t))
	}
	return *t.elem
}

// Key returns the key type of a dict entry. It panics if t is not a
// dict entry.
func (t Type) Key() Type {
	if t.kind != KindDictEntry {
		panic(fmt.Sprintf("Key called on non-dict-entry type %q", t))
	}
	return *t.key
}

// Fields returns the member types of a struct, in declaration order.
// It panics if t is not a struct.
func (t Type) Fields() []Type {
	if t.kind != KindStruct {
		panic(fmt.Sprintf("Fields called on non-struct type %q", t))
	}
	return t.fields
}

// IsArrayOfDictEntry reports whether t is an array whose element is
// a dict entry, i.e. a DBus "dictionary".
func (t Type) IsArrayOfDictEntry() bool {
	return t.kind == KindArray && t.elem.kind == KindDictEntry
}

// Alignment returns the byte boundary that a value of type t must be
// aligned to before it is written or read, per spec §4.1.
func (t Type) Alignment() int {
	switch t.kind {
	case KindByte, KindSignature, KindVariant:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindBool, KindInt32, KindUint32, KindString, KindObjectPath,
		KindUnixFD, KindArray:
		return 4
	case KindInt64, KindUint64, KindDouble, KindStruct, KindDictEntry:
		return 8
	default:
		panic(fmt.Sprintf("alignment of invalid type %q", t))
	}
}

// String returns the canonical DBus signature string for t.
func (t Type) String() string {
	var b strings.Builder
	t.writeTo(&b)
	return b.String()
}

func (t Type) writeTo(b *strings.Builder) {
	switch t.kind {
	case KindArray:
		b.WriteByte('a')
		t.elem.writeTo(b)
	case KindStruct:
		b.WriteByte('(')
		for _, f := range t.fields {
			f.writeTo(b)
		}
		b.WriteByte(')')
	case KindDictEntry:
		b.WriteByte('{')
		t.key.writeTo(b)
		t.elem.writeTo(b)
		b.WriteByte('}')
	default:
		b.WriteByte(byte(t.kind))
	}
}

func basic(k Kind) Type { return Type{kind: k} }

var (
	TypeByte       = basic(KindByte)
	TypeBool       = basic(KindBool)
	TypeInt16      = basic(KindInt16)
	TypeUint16     = basic(KindUint16)
	TypeInt32      = basic(KindInt32)
	TypeUint32     = basic(KindUint32)
	TypeInt64      = basic(KindInt64)
	TypeUint64     = basic(KindUint64)
	TypeDouble     = basic(KindDouble)
	TypeString     = basic(KindString)
	TypeObjectPath = basic(KindObjectPath)
	TypeSignature  = basic(KindSignature)
	TypeUnixFD     = basic(KindUnixFD)
	TypeVariant    = basic(KindVariant)
)

// ArrayOf returns the array-of-elem type.
func ArrayOf(elem Type) Type {
	e := elem
	return Type{kind: KindArray, elem: &e}
}

// StructOf returns the struct type with the given member types, in
// order.
func StructOf(fields ...Type) Type {
	return Type{kind: KindStruct, fields: fields}
}

// DictEntryOf returns the dict-entry type for the given key and
// value types. key must be a basic type.
func DictEntryOf(key, val Type) (Type, error) {
	if !key.kind.isBasic() {
		return Type{}, fmt.Errorf("invalid dict entry key type %q, must be a DBus basic type", key)
	}
	k, v := key, val
	return Type{kind: KindDictEntry, key: &k, elem: &v}, nil
}

// ParseSignature parses sig as a single complete DBus type.
func ParseSignature(sig string) (Type, error) {
	types, err := ParseTypes(sig)
	if err != nil {
		return Type{}, err
	}
	if len(types) != 1 {
		return Type{}, fmt.Errorf("signature %q describes %d types, want exactly 1", sig, len(types))
	}
	return types[0], nil
}

// ParseTypes parses sig as a sequence of zero or more complete DBus
// types, as used for message body signatures and header field
// signatures.
func ParseTypes(sig string) ([]Type, error) {
	rest := sig
	var ret []Type
	for rest != "" {
		var (
			t   Type
			err error
		)
		t, rest, err = parseOne(rest, false)
		if err != nil {
			return nil, fmt.Errorf("invalid type signature %q: %w", sig, err)
		}
		ret = append(ret, t)
	}
	return ret, nil
}

func mustParseSignature(sig string) Type {
	t, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return t
}

func mustParseTypes(sig string) []Type {
	ts, err := ParseTypes(sig)
	if err != nil {
		panic(err)
	}
	return ts
}

// parseOne consumes the first complete type from the front of sig,
// and returns the corresponding Type plus the unconsumed remainder
// of the signature string.
func parseOne(sig string, inArray bool) (Type, string, error) {
	if sig == "" {
		return Type{}, "", fmt.Errorf("empty type signature")
	}

	if Kind(sig[0]).isBasic() {
		return basic(Kind(sig[0])), sig[1:], nil
	}

	switch sig[0] {
	case byte(KindVariant):
		return TypeVariant, sig[1:], nil
	case 'a':
		if len(sig) < 2 {
			return Type{}, "", fmt.Errorf("truncated array type")
		}
		elem, rest, err := parseOne(sig[1:], true)
		if err != nil {
			return Type{}, "", err
		}
		return ArrayOf(elem), rest, nil
	case '(':
		var (
			fields []Type
			field  Type
			rest   = sig[1:]
			err    error
		)
		for rest != "" && rest[0] != ')' {
			field, rest, err = parseOne(rest, false)
			if err != nil {
				return Type{}, "", err
			}
			fields = append(fields, field)
		}
		if rest == "" {
			return Type{}, "", fmt.Errorf("missing closing ) in struct definition")
		}
		if len(fields) == 0 {
			return Type{}, "", fmt.Errorf("empty struct definition")
		}
		return StructOf(fields...), rest[1:], nil
	case '{':
		if !inArray {
			return Type{}, "", fmt.Errorf("dict entry type found outside array")
		}
		key, rest, err := parseOne(sig[1:], false)
		if err != nil {
			return Type{}, "", err
		}
		val, rest, err := parseOne(rest, false)
		if err != nil {
			return Type{}, "", err
		}
		if rest == "" || rest[0] != '}' {
			return Type{}, "", fmt.Errorf("missing closing } in dict entry definition")
		}
		de, err := DictEntryOf(key, val)
		if err != nil {
			return Type{}, "", err
		}
		return de, rest[1:], nil
	default:
		return Type{}, "", fmt.Errorf("unknown type specifier %q", sig[0])
	}
}
