package schema

import "fmt"

// Schema is the full set of tables a sync run will consider, in catalog
// order.
type Schema struct {
	Tables []Table
}

// Filter keeps catalog order while dropping any table named in ignore and,
// when only is non-empty, any table not named in only. ignore always wins
// over only for a name present in both; Enqueue (internal/queue) relies on
// both sides calling Filter with the same sets so From and To walk an
// identical table list.
func (s *Schema) Filter(ignore, only map[string]bool) Schema {
	out := Schema{Tables: make([]Table, 0, len(s.Tables))}
	for _, t := range s.Tables {
		name := t.QualifiedName()
		if ignore[name] || ignore[t.Name] {
			continue
		}
		if len(only) > 0 && !only[name] && !only[t.Name] {
			continue
		}
		out.Tables = append(out.Tables, t)
	}
	return out
}

// Lookup returns the table named name, or nil.
func (s *Schema) Lookup(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name || s.Tables[i].QualifiedName() == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// Equivalent checks that s and other name the same tables (by Name) and that
// each pair is Table.Equivalent. A differing table count is an error, so
// an extra table on either side is a mismatch; both schemas are the view
// already narrowed by Filter's ignore/only sets.
func (s *Schema) Equivalent(other *Schema) error {
	if len(s.Tables) != len(other.Tables) {
		return fmt.Errorf("table count differs: %d vs %d", len(s.Tables), len(other.Tables))
	}
	for i := range s.Tables {
		t := &s.Tables[i]
		o := other.Lookup(t.Name)
		if o == nil {
			return &SchemaMismatchError{Table: t.QualifiedName(), Reason: "missing on destination"}
		}
		if err := t.Equivalent(o); err != nil {
			return err
		}
	}
	return nil
}
