package schema

import "kitchensync/internal/wire"

// Encode turns s into the single wire.Value carried as the SCHEMA command's
// argument: an array of per-table arrays of
// [database, name, [primaryKey...], [columns...]], each column itself an
// array of [name, type, nullable].
func (s *Schema) Encode() wire.Value {
	tables := make([]wire.Value, len(s.Tables))
	for i, t := range s.Tables {
		pk := make([]wire.Value, len(t.PrimaryKey))
		for j, name := range t.PrimaryKey {
			pk[j] = wire.BytesValue([]byte(name))
		}
		cols := make([]wire.Value, len(t.Columns))
		for j, c := range t.Columns {
			nullable := uint64(0)
			if c.Nullable {
				nullable = 1
			}
			cols[j] = wire.ArrayOf(
				wire.BytesValue([]byte(c.Name)),
				wire.Uint64(uint64(c.Type)),
				wire.Uint64(nullable),
			)
		}
		tables[i] = wire.ArrayOf(
			wire.BytesValue([]byte(t.Database)),
			wire.BytesValue([]byte(t.Name)),
			wire.ArrayOf(pk...),
			wire.ArrayOf(cols...),
		)
	}
	return wire.ArrayOf(tables...)
}

// Decode is the inverse of Encode.
func Decode(v wire.Value) (Schema, error) {
	if v.Kind != wire.KindArray {
		return Schema{}, &ProtocolShapeError{Want: "array of tables"}
	}
	s := Schema{Tables: make([]Table, 0, len(v.Array))}
	for _, tv := range v.Array {
		if tv.Kind != wire.KindArray || len(tv.Array) != 4 {
			return Schema{}, &ProtocolShapeError{Want: "4-element table tuple"}
		}
		db := string(tv.Array[0].Bytes)
		name := string(tv.Array[1].Bytes)
		pkv := tv.Array[2]
		colv := tv.Array[3]
		if pkv.Kind != wire.KindArray || colv.Kind != wire.KindArray {
			return Schema{}, &ProtocolShapeError{Want: "array-typed primary key and columns"}
		}
		pk := make([]string, len(pkv.Array))
		for i, e := range pkv.Array {
			pk[i] = string(e.Bytes)
		}
		cols := make([]Column, len(colv.Array))
		for i, cv := range colv.Array {
			if cv.Kind != wire.KindArray || len(cv.Array) != 3 {
				return Schema{}, &ProtocolShapeError{Want: "3-element column tuple"}
			}
			cols[i] = Column{
				Name:     string(cv.Array[0].Bytes),
				Type:     Type(cv.Array[1].Uint),
				Nullable: cv.Array[2].Uint != 0,
			}
		}
		s.Tables = append(s.Tables, Table{Database: db, Name: name, PrimaryKey: pk, Columns: cols})
	}
	return s, nil
}

// ProtocolShapeError means a SCHEMA payload didn't match the expected
// nested-array shape; always wrapped into a wire.ProtocolError by the
// caller that owns the connection.
type ProtocolShapeError struct {
	Want string
}

func (e *ProtocolShapeError) Error() string {
	return "malformed schema payload, expected " + e.Want
}
