package dbus

import (
	"fmt"
	"math"

	"github.com/Gao-OS/dbusbroker/fragments"
)

// isStructLike reports whether t's wire representation needs 8-byte
// struct alignment (spec §4.1 alignment rules).
func isStructLike(t Type) bool {
	return t.Kind() == KindStruct || t.Kind() == KindDictEntry
}

// encodeValue writes v to e following the alignment and layout rules
// for v's DBus type (spec §4.1, §4.2).
func encodeValue(e *fragments.Encoder, v Value) error {
	switch val := v.(type) {
	case Byte:
		e.Uint8(uint8(val))
	case Bool:
		if val {
			e.Uint32(1)
		} else {
			e.Uint32(0)
		}
	case Int16:
		e.Uint16(uint16(val))
	case Uint16:
		e.Uint16(uint16(val))
	case Int32:
		e.Uint32(uint32(val))
	case Uint32:
		e.Uint32(uint32(val))
	case Int64:
		e.Uint64(uint64(val))
	case Uint64:
		e.Uint64(uint64(val))
	case Double:
		e.Uint64(math.Float64bits(float64(val)))
	case String:
		e.String(string(val))
	case ObjectPath:
		if err := val.Validate(); err != nil {
			return typeErr(TypeObjectPath, "invalid object path %q: %v", string(val), err)
		}
		e.String(string(val))
	case Signature:
		if _, err := ParseTypes(string(val)); err != nil {
			return typeErr(TypeSignature, "invalid signature %q: %v", string(val), err)
		}
		e.Signature(string(val))
	case UnixFD:
		e.Uint32(uint32(val))
	case *Array:
		return e.Array(isStructLike(val.Elem), func() error {
			for _, elem := range val.Elements {
				if err := encodeValue(e, elem); err != nil {
					return err
				}
			}
			return nil
		})
	case *Struct:
		return e.Struct(func() error {
			for _, f := range val.Fields {
				if err := encodeValue(e, f); err != nil {
					return err
				}
			}
			return nil
		})
	case *DictEntry:
		return e.Struct(func() error {
			if err := encodeValue(e, val.Key); err != nil {
				return err
			}
			return encodeValue(e, val.Val)
		})
	case *Variant:
		e.Signature(val.Sig().String())
		return encodeValue(e, val.Value)
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

// decodeValue reads a value of type t from d (spec §4.1, §4.2).
func decodeValue(d *fragments.Decoder, t Type) (Value, error) {
	switch t.Kind() {
	case KindByte:
		u, err := d.Uint8()
		return Byte(u), err
	case KindBool:
		u, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		switch u {
		case 0:
			return Bool(false), nil
		case 1:
			return Bool(true), nil
		default:
			return nil, ErrInvalidBoolean
		}
	case KindInt16:
		u, err := d.Uint16()
		return Int16(u), err
	case KindUint16:
		u, err := d.Uint16()
		return Uint16(u), err
	case KindInt32:
		u, err := d.Uint32()
		return Int32(u), err
	case KindUint32:
		u, err := d.Uint32()
		return Uint32(u), err
	case KindInt64:
		u, err := d.Uint64()
		return Int64(u), err
	case KindUint64:
		u, err := d.Uint64()
		return Uint64(u), err
	case KindDouble:
		u, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		return Double(math.Float64frombits(u)), nil
	case KindString:
		s, err := d.String()
		return String(s), err
	case KindObjectPath:
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		p := ObjectPath(s)
		if err := p.Validate(); err != nil {
			return nil, typeErr(TypeObjectPath, "invalid object path %q: %v", s, err)
		}
		return p, nil
	case KindSignature:
		s, err := d.Signature()
		if err != nil {
			return nil, err
		}
		if _, err := ParseTypes(s); err != nil {
			return nil, typeErr(TypeSignature, "invalid signature %q: %v", s, err)
		}
		return Signature(s), nil
	case KindUnixFD:
		u, err := d.Uint32()
		return UnixFD(u), err
	case KindArray:
		var elems []Value
		_, err := d.Array(isStructLike(t.Elem()), func(int) error {
			v, err := decodeValue(d, t.Elem())
			if err != nil {
				return err
			}
			elems = append(elems, v)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Array{Elem: t.Elem(), Elements: elems}, nil
	case KindStruct:
		var fields []Value
		err := d.Struct(func() error {
			for _, ft := range t.Fields() {
				v, err := decodeValue(d, ft)
				if err != nil {
					return err
				}
				fields = append(fields, v)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &Struct{Fields: fields}, nil
	case KindDictEntry:
		var key, val Value
		err := d.Struct(func() error {
			var err error
			if key, err = decodeValue(d, t.Key()); err != nil {
				return err
			}
			val, err = decodeValue(d, t.Elem())
			return err
		})
		if err != nil {
			return nil, err
		}
		return &DictEntry{Key: key, Val: val}, nil
	case KindVariant:
		inner, err := decodeVariant(d)
		if err != nil {
			return nil, err
		}
		return &Variant{Value: inner}, nil
	default:
		return nil, fmt.Errorf("decode: unsupported type %q", t)
	}
}

// decodeVariant reads a variant's inline signature and the value it
// describes, returning just the inner value.
func decodeVariant(d *fragments.Decoder) (Value, error) {
	sig, err := d.Signature()
	if err != nil {
		return nil, err
	}
	t, err := ParseSignature(sig)
	if err != nil {
		return nil, typeErr(TypeVariant, "invalid variant signature %q: %v", sig, err)
	}
	return decodeValue(d, t)
}
