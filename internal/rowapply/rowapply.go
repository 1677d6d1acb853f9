// Package rowapply reconciles the destination table with the rows a
// From-side peer ships for one range: a sorted merge-walk against the
// destination's own current contents for that same range, classifying each
// key as insert/update/delete/unchanged the way the teacher's
// dataChunkComparator classifies a pair of pre-fetched chunks, but driven
// from a single streamed range instead of two whole chunk slices.
package rowapply

import (
	"bytes"
	"context"

	"kitchensync/internal/dbadapter"
	"kitchensync/internal/schema"
)

// defaultBatchSize mirrors the teacher's --insertsize default: flush every
// 500 pending mutations rather than one DML statement per row.
const defaultBatchSize = 500

// Applier writes the rows a From-side peer ships for one range to the
// destination, batching inserts, updates, and deletes separately. It
// implements rangecmp.RowSink.
type Applier struct {
	Adapter   dbadapter.Adapter
	Table     *schema.Table
	BatchSize int

	keyIdx []int
}

func New(adapter dbadapter.Adapter, table *schema.Table) *Applier {
	return &Applier{Adapter: adapter, Table: table, BatchSize: defaultBatchSize}
}

func (a *Applier) batchSize() int {
	if a.BatchSize <= 0 {
		return defaultBatchSize
	}
	return a.BatchSize
}

// ApplyRange merge-walks incoming (already primary-key sorted, per the
// wire protocol) against the destination's current contents for
// (prevKey, lastKey], issuing INSERT for source-only keys, DELETE for
// destination-only keys, UPDATE for keys present on both with differing
// non-key columns, and skipping keys identical on both sides.
func (a *Applier) ApplyRange(ctx context.Context, prevKey, lastKey schema.ColumnValues, rows []dbadapter.Row) error {
	var dest []dbadapter.Row
	err := a.Adapter.IterateRange(ctx, a.Table, prevKey, lastKey, func(r dbadapter.Row) error {
		dest = append(dest, r)
		return nil
	})
	if err != nil {
		return err
	}

	var inserts, updates []dbadapter.Row
	var deletes []schema.ColumnValues

	flush := func() error {
		if len(inserts) > 0 {
			if err := a.Adapter.ApplyInsert(ctx, a.Table, inserts); err != nil {
				return err
			}
			inserts = inserts[:0]
		}
		if len(updates) > 0 {
			if err := a.Adapter.ApplyUpdate(ctx, a.Table, updates); err != nil {
				return err
			}
			updates = updates[:0]
		}
		if len(deletes) > 0 {
			if err := a.Adapter.ApplyDelete(ctx, a.Table, deletes); err != nil {
				return err
			}
			deletes = deletes[:0]
		}
		return nil
	}
	pending := func() int { return len(inserts) + len(updates) + len(deletes) }

	i, j := 0, 0
	for i < len(rows) || j < len(dest) {
		switch {
		case j == len(dest):
			inserts = append(inserts, rows[i])
			i++
		case i == len(rows):
			deletes = append(deletes, dest[j].Key)
			j++
		default:
			switch schema.Compare(rows[i].Key, dest[j].Key) {
			case -1:
				inserts = append(inserts, rows[i])
				i++
			case 1:
				deletes = append(deletes, dest[j].Key)
				j++
			default:
				if !rowsEqual(rows[i], dest[j]) {
					updates = append(updates, rows[i])
				}
				i++
				j++
			}
		}
		if pending() >= a.batchSize() {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func rowsEqual(a, b dbadapter.Row) bool {
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if !bytes.Equal(a.Columns[i], b.Columns[i]) {
			return false
		}
	}
	return true
}
