package rowapply

import (
	"context"
	"sort"
	"testing"

	"kitchensync/internal/dbadapter"
	"kitchensync/internal/schema"
	"kitchensync/internal/wire"
)

// fakeAdapter is a minimal dbadapter.Adapter stand-in exercising only the
// methods Applier calls: IterateRange and the three Apply* mutators.
type fakeAdapter struct {
	table *schema.Table
	rows  map[int64][]byte
}

func newFakeAdapter(rows map[int64][]byte) *fakeAdapter {
	return &fakeAdapter{
		table: &schema.Table{Name: "t", PrimaryKey: []string{"id"}, Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInt},
			{Name: "value", Type: schema.TypeBytes},
		}},
		rows: rows,
	}
}

func (a *fakeAdapter) IterateRange(ctx context.Context, table *schema.Table, prevKey, lastKey schema.ColumnValues, fn dbadapter.RowFunc) error {
	var keys []int64
	for k := range a.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if !prevKey.Empty() && k <= prevKey[0].Int {
			continue
		}
		if !lastKey.Empty() && k > lastKey[0].Int {
			continue
		}
		row := dbadapter.Row{Key: schema.ColumnValues{wire.Int64(k)}, Columns: [][]byte{wire.Int64(k).Bytes, a.rows[k]}}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (a *fakeAdapter) ApplyInsert(ctx context.Context, table *schema.Table, rows []dbadapter.Row) error {
	for _, r := range rows {
		a.rows[r.Key[0].Int] = r.Columns[1]
	}
	return nil
}

func (a *fakeAdapter) ApplyUpdate(ctx context.Context, table *schema.Table, rows []dbadapter.Row) error {
	for _, r := range rows {
		a.rows[r.Key[0].Int] = r.Columns[1]
	}
	return nil
}

func (a *fakeAdapter) ApplyDelete(ctx context.Context, table *schema.Table, keys []schema.ColumnValues) error {
	for _, k := range keys {
		delete(a.rows, k[0].Int)
	}
	return nil
}

func (a *fakeAdapter) PopulateDatabaseSchema(ctx context.Context) (*schema.Schema, error) { return nil, nil }
func (a *fakeAdapter) StartWriteTransaction(ctx context.Context) error                     { return nil }
func (a *fakeAdapter) CommitTransaction(ctx context.Context) error                         { return nil }
func (a *fakeAdapter) RollbackTransaction(ctx context.Context) error                       { return nil }
func (a *fakeAdapter) ExportSnapshot(ctx context.Context) (string, error)                  { return "", nil }
func (a *fakeAdapter) ImportSnapshot(ctx context.Context, token string) error              { return nil }
func (a *fakeAdapter) UnholdSnapshot(ctx context.Context) error                            { return nil }
func (a *fakeAdapter) DisableReferentialIntegrity(ctx context.Context) error               { return nil }
func (a *fakeAdapter) EnableReferentialIntegrity(ctx context.Context) error                { return nil }
func (a *fakeAdapter) RangeHash(ctx context.Context, table *schema.Table, prevKey, lastKey schema.ColumnValues) ([]byte, int64, error) {
	return nil, 0, nil
}
func (a *fakeAdapter) PickRangeEnd(ctx context.Context, table *schema.Table, prevKey schema.ColumnValues, wantRows int64) (schema.ColumnValues, error) {
	return schema.ColumnValues{}, nil
}
func (a *fakeAdapter) SampleRowWidth(ctx context.Context, table *schema.Table) (int64, error) { return 16, nil }
func (a *fakeAdapter) Close() error                                                            { return nil }

func srcRows(vals map[int64]string) []dbadapter.Row {
	var keys []int64
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var out []dbadapter.Row
	for _, k := range keys {
		out = append(out, dbadapter.Row{Key: schema.ColumnValues{wire.Int64(k)}, Columns: [][]byte{wire.Int64(k).Bytes, []byte(vals[k])}})
	}
	return out
}

func TestApplyRangeInsertsUpdatesDeletes(t *testing.T) {
	dest := newFakeAdapter(map[int64][]byte{1: []byte("a"), 2: []byte("old"), 3: []byte("gone")})
	applier := New(dest, dest.table)

	incoming := srcRows(map[int64]string{1: "a", 2: "new", 4: "fresh"})
	if err := applier.ApplyRange(context.Background(), schema.ColumnValues{}, schema.ColumnValues{}, incoming); err != nil {
		t.Fatalf("ApplyRange: %v", err)
	}

	want := map[int64]string{1: "a", 2: "new", 4: "fresh"}
	if len(dest.rows) != len(want) {
		t.Fatalf("got %v want %v", dest.rows, want)
	}
	for k, v := range want {
		if string(dest.rows[k]) != v {
			t.Errorf("key %d: got %q want %q", k, dest.rows[k], v)
		}
	}
}

func TestApplyRangeNoChangesWhenIdentical(t *testing.T) {
	dest := newFakeAdapter(map[int64][]byte{1: []byte("a"), 2: []byte("b")})
	applier := New(dest, dest.table)
	incoming := srcRows(map[int64]string{1: "a", 2: "b"})
	if err := applier.ApplyRange(context.Background(), schema.ColumnValues{}, schema.ColumnValues{}, incoming); err != nil {
		t.Fatalf("ApplyRange: %v", err)
	}
	if len(dest.rows) != 2 || string(dest.rows[1]) != "a" || string(dest.rows[2]) != "b" {
		t.Fatalf("unexpected mutation: %v", dest.rows)
	}
}

func TestApplyRangeRespectsBatchSize(t *testing.T) {
	dest := newFakeAdapter(map[int64][]byte{})
	applier := New(dest, dest.table)
	applier.BatchSize = 2

	incoming := srcRows(map[int64]string{1: "a", 2: "b", 3: "c", 4: "d", 5: "e"})
	if err := applier.ApplyRange(context.Background(), schema.ColumnValues{}, schema.ColumnValues{}, incoming); err != nil {
		t.Fatalf("ApplyRange: %v", err)
	}
	if len(dest.rows) != 5 {
		t.Fatalf("expected all 5 rows inserted across batches, got %v", dest.rows)
	}
}

func TestApplyRangeEmptyBothSides(t *testing.T) {
	dest := newFakeAdapter(map[int64][]byte{})
	applier := New(dest, dest.table)
	if err := applier.ApplyRange(context.Background(), schema.ColumnValues{}, schema.ColumnValues{}, nil); err != nil {
		t.Fatalf("ApplyRange: %v", err)
	}
	if len(dest.rows) != 0 {
		t.Fatalf("expected no rows, got %v", dest.rows)
	}
}
