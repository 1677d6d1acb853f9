package schema

import "fmt"

// Table is the dialect-neutral catalog entry for one table: its database,
// name, ordered column list, and the columns (by name, in key order) that
// form its primary key. Grounded on the teacher's MetadataTable/columnInfo:
// the dialect adapters populate this from information_schema (MySQL),
// pg_catalog (Postgres), or sys.columns (MSSQL), then discard everything
// dialect-specific (storage engine, index cardinality) that the sync
// protocol itself never needs.
type Table struct {
	Database   string
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// ColumnIndex returns the position of name in t.Columns, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// KeyIndexes returns, in primary-key order, the index into t.Columns of
// each key column.
func (t *Table) KeyIndexes() []int {
	idx := make([]int, len(t.PrimaryKey))
	for i, name := range t.PrimaryKey {
		idx[i] = t.ColumnIndex(name)
	}
	return idx
}

// QualifiedName returns "database.name", the identifier used in --only and
// --ignore filters and in log output.
func (t *Table) QualifiedName() string {
	return fmt.Sprintf("%s.%s", t.Database, t.Name)
}

// Equivalent reports whether t and other are close enough to synchronize:
// same primary key columns in the same order, and the same columns in the
// same order with the same nullability and compatible types. Numeric
// family differences are tolerated (see compatible); an extra, missing or
// reordered column, or a nullability difference, is a mismatch.
func (t *Table) Equivalent(other *Table) error {
	if len(t.PrimaryKey) == 0 {
		return &SchemaMismatchError{Table: t.QualifiedName(), Reason: "no primary key"}
	}
	if len(t.PrimaryKey) != len(other.PrimaryKey) {
		return &SchemaMismatchError{Table: t.QualifiedName(), Reason: "primary key column count differs"}
	}
	for i, name := range t.PrimaryKey {
		if other.PrimaryKey[i] != name {
			return &SchemaMismatchError{Table: t.QualifiedName(), Reason: fmt.Sprintf("primary key column %d is %q on one side, %q on the other", i, name, other.PrimaryKey[i])}
		}
	}
	if len(t.Columns) != len(other.Columns) {
		return &SchemaMismatchError{Table: t.QualifiedName(), Reason: fmt.Sprintf("column count differs: %d vs %d", len(t.Columns), len(other.Columns))}
	}
	for i, c := range t.Columns {
		o := other.Columns[i]
		if o.Name != c.Name {
			return &SchemaMismatchError{Table: t.QualifiedName(), Reason: fmt.Sprintf("column %d is %q on one side, %q on the other", i, c.Name, o.Name)}
		}
		if o.Nullable != c.Nullable {
			return &SchemaMismatchError{Table: t.QualifiedName(), Reason: fmt.Sprintf("column %q nullability differs", c.Name)}
		}
		if !compatible(c.Type, o.Type) {
			return &SchemaMismatchError{Table: t.QualifiedName(), Reason: fmt.Sprintf("column %q type %s is incompatible with %s", c.Name, c.Type, o.Type)}
		}
	}
	return nil
}
