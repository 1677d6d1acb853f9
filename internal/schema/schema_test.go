package schema

import (
	"testing"

	"kitchensync/internal/wire"
)

func sampleTable() Table {
	return Table{
		Database:   "shop",
		Name:       "orders",
		PrimaryKey: []string{"id"},
		Columns: []Column{
			{Name: "id", Type: TypeUint},
			{Name: "customer", Type: TypeString, Nullable: true},
			{Name: "total", Type: TypeFloat},
		},
	}
}

func TestTableEquivalentRejectsExtraColumnAndNullabilityDrift(t *testing.T) {
	a := sampleTable()
	b := sampleTable()
	b.Columns = append(b.Columns, Column{Name: "notes", Type: TypeString})
	if err := a.Equivalent(&b); err == nil {
		t.Fatal("expected mismatch for extra column")
	}
	c := sampleTable()
	c.Columns[1].Nullable = false
	if err := a.Equivalent(&c); err == nil {
		t.Fatal("expected mismatch for nullability drift")
	}
}

func TestTableEquivalentRejectsMissingColumn(t *testing.T) {
	a := sampleTable()
	b := sampleTable()
	b.Columns = b.Columns[:2]
	if err := a.Equivalent(&b); err == nil {
		t.Fatal("expected mismatch for missing column")
	}
}

func TestTableEquivalentRejectsIncompatibleType(t *testing.T) {
	a := sampleTable()
	b := sampleTable()
	b.Columns[1].Type = TypeBytes
	if err := a.Equivalent(&b); err == nil {
		t.Fatal("expected mismatch for incompatible type")
	}
}

func TestTableEquivalentAcceptsNumericFamilyDrift(t *testing.T) {
	a := sampleTable()
	b := sampleTable()
	b.Columns[0].Type = TypeInt
	if err := a.Equivalent(&b); err != nil {
		t.Fatalf("expected numeric family types to be compatible, got %v", err)
	}
}

func TestSchemaFilterIgnoreWinsOverOnly(t *testing.T) {
	s := &Schema{Tables: []Table{
		{Database: "d", Name: "a"},
		{Database: "d", Name: "b"},
		{Database: "d", Name: "c"},
	}}
	filtered := s.Filter(map[string]bool{"a": true}, map[string]bool{"a": true, "b": true})
	if len(filtered.Tables) != 1 || filtered.Tables[0].Name != "b" {
		t.Fatalf("expected only [b], got %v", filtered.Tables)
	}
}

func TestSchemaFilterPreservesCatalogOrder(t *testing.T) {
	s := &Schema{Tables: []Table{
		{Database: "d", Name: "z"},
		{Database: "d", Name: "a"},
		{Database: "d", Name: "m"},
	}}
	filtered := s.Filter(nil, nil)
	got := []string{filtered.Tables[0].Name, filtered.Tables[1].Name, filtered.Tables[2].Name}
	want := []string{"z", "a", "m"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order not preserved: got %v want %v", got, want)
		}
	}
}

func TestSchemaEncodeDecodeRoundTrip(t *testing.T) {
	s := Schema{Tables: []Table{sampleTable()}}
	decoded, err := Decode(s.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := s.Equivalent(&decoded); err != nil {
		t.Fatalf("round-tripped schema not equivalent: %v", err)
	}
	if decoded.Tables[0].Database != "shop" {
		t.Fatalf("database not round-tripped: got %q", decoded.Tables[0].Database)
	}
}

func TestColumnValuesCompareEmptyAsUpperSentinel(t *testing.T) {
	a := ColumnValues{}
	b := ColumnValues{wire.Uint64(5)}
	if Compare(a, b) <= 0 {
		t.Fatal("empty ColumnValues should sort after any concrete key")
	}
	if Compare(b, a) >= 0 {
		t.Fatal("comparison should be antisymmetric")
	}
}
