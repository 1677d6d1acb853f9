package schema

import (
	"bytes"

	"kitchensync/internal/wire"
)

// ColumnValues is an ordered sequence of typed values matching a table's
// primary key columns. An empty ColumnValues denotes "before the first row"
// when used as prevKey, or "beyond the last row" when used as lastKey —
// callers distinguish the two positions themselves, ColumnValues carries no
// tag for it.
type ColumnValues []wire.Value

// Empty reports whether v carries no values, the open-ended boundary.
func (v ColumnValues) Empty() bool {
	return len(v) == 0
}

// Encode turns v into a single wire.Value array, suitable as a HASH_NEXT /
// HASH_FAIL / ROWS argument.
func (v ColumnValues) Encode() wire.Value {
	return wire.ArrayOf(v...)
}

// DecodeColumnValues reads back what Encode wrote.
func DecodeColumnValues(v wire.Value) ColumnValues {
	if v.Kind != wire.KindArray {
		return nil
	}
	out := make(ColumnValues, len(v.Array))
	copy(out, v.Array)
	return out
}

// Compare orders a and b as primary-key tuples: an empty ColumnValues sorts
// after every non-empty one when used as an upper bound (the "beyond end of
// table" sentinel), matching how a table walk naturally terminates. Callers
// comparing two boundaries of the same kind (both prevKey, or both lastKey)
// get a normal tuple comparison otherwise.
func Compare(a, b ColumnValues) int {
	if a.Empty() && b.Empty() {
		return 0
	}
	if a.Empty() {
		return 1
	}
	if b.Empty() {
		return -1
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareValue(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareValue(a, b wire.Value) int {
	switch {
	case a.Kind == wire.KindUint && b.Kind == wire.KindUint:
		switch {
		case a.Uint < b.Uint:
			return -1
		case a.Uint > b.Uint:
			return 1
		default:
			return 0
		}
	case a.Kind == wire.KindInt && b.Kind == wire.KindInt:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case a.Kind == wire.KindBytes && b.Kind == wire.KindBytes:
		return bytes.Compare(a.Bytes, b.Bytes)
	case a.Kind == wire.KindNil && b.Kind == wire.KindNil:
		return 0
	default:
		// Mixed kinds only arise from a dialect mismatch the schema check
		// should already have rejected; fall back to a stable, if
		// arbitrary, ordering rather than panicking mid-sync.
		return int(a.Kind) - int(b.Kind)
	}
}
