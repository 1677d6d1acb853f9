package wire

import "fmt"

// Kind tags the type of a Value.
type Kind byte

const (
	KindNil Kind = iota
	KindUint
	KindInt
	KindBytes
	KindArray
)

// Value is one typed argument in a Command's argument tuple. Only one of the
// fields is meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Uint  uint64
	Int   int64
	Bytes []byte
	Array []Value
}

// Nil returns the nil value, used for SQL NULL column values and row-list
// sentinels.
func Nil() Value { return Value{Kind: KindNil} }

// Uint64 wraps an unsigned integer argument.
func Uint64(u uint64) Value { return Value{Kind: KindUint, Uint: u} }

// Int64 wraps a signed integer argument.
func Int64(i int64) Value { return Value{Kind: KindInt, Int: i} }

// BytesValue wraps a byte-string argument (column values, hashes); a nil
// slice becomes Nil().
func BytesValue(b []byte) Value {
	if b == nil {
		return Nil()
	}
	return Value{Kind: KindBytes, Bytes: b}
}

// ArrayOf wraps an ordered sequence of arguments, e.g. a ColumnValues tuple.
func ArrayOf(vs ...Value) Value { return Value{Kind: KindArray, Array: vs} }

func (v Value) IsNil() bool { return v.Kind == KindNil }

func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindUint:
		return fmt.Sprintf("%d", v.Uint)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindBytes:
		return fmt.Sprintf("%x", v.Bytes)
	case KindArray:
		return fmt.Sprintf("%v", v.Array)
	default:
		return "?"
	}
}

// Equal reports whether two values carry the same kind and payload.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindUint:
		return a.Uint == b.Uint
	case KindInt:
		return a.Int == b.Int
	case KindBytes:
		return string(a.Bytes) == string(b.Bytes)
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
