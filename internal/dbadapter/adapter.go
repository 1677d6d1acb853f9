// Package dbadapter defines the Adapter interface that Worker drives
// against either database regardless of dialect, plus the shared
// range-predicate helpers every dialect's concrete adapter builds on.
// Grounded on the teacher's own per-dialect connection/metadata/quoting
// functions (GetaSynchronizedMysqlConnections, GetMysqlBasicMetadataInfo,
// needCopyForquoteStringMysql, generatePredicat, ...), generalized here into
// one capability set with three implementations: mysqladapter, pgadapter,
// mssqladapter.
package dbadapter

import (
	"context"

	"kitchensync/internal/schema"
	"kitchensync/internal/wire"
)

// Row is one fetched row: its primary-key tuple and its full column values
// in table-column order, each already rendered to the canonical []byte form
// RangeHasher expects (nil for SQL NULL).
type Row struct {
	Key     schema.ColumnValues
	Columns [][]byte
}

// RowFunc is called once per row by IterateRange, in increasing primary-key
// order. Returning a non-nil error stops iteration and is propagated.
type RowFunc func(Row) error

// Adapter is the capability set Worker needs from a database connection,
// regardless of dialect: transaction control, the three-phase snapshot
// primitives, referential-integrity toggling, catalog loading, and the
// range-hash/row-iteration operations RangeComparator and RowApplier drive.
//
// Every Adapter method takes the context.Context the calling Worker already
// holds for its table's OPEN..terminal-ROWS window, so a worker abort can
// cancel an in-flight query rather than wait it out.
type Adapter interface {
	// PopulateDatabaseSchema loads the full table/column/primary-key catalog.
	// Called once by every worker, leader or not, in Worker phase 4.
	PopulateDatabaseSchema(ctx context.Context) (*schema.Schema, error)

	// StartWriteTransaction begins the single transaction a worker holds for
	// the remainder of its run.
	StartWriteTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	// ExportSnapshot is called by the leader when snapshotting is enabled; it
	// returns an opaque token siblings pass to ImportSnapshot. Dialects with
	// no first-class export primitive (MSSQL) return an empty token and rely
	// on the surrounding barrier's lock-based window instead.
	ExportSnapshot(ctx context.Context) (string, error)
	ImportSnapshot(ctx context.Context, token string) error
	UnholdSnapshot(ctx context.Context) error

	DisableReferentialIntegrity(ctx context.Context) error
	EnableReferentialIntegrity(ctx context.Context) error

	// RangeHash computes the canonical hash (via wire.RangeHasher) and row
	// count over (prevKey, lastKey] for table, in primary-key order.
	RangeHash(ctx context.Context, table *schema.Table, prevKey, lastKey schema.ColumnValues) (hash []byte, rowCount int64, err error)

	// PickRangeEnd chooses a lastKey such that (prevKey, lastKey] contains
	// approximately wantRows rows (or runs to end-of-table, returning an
	// empty ColumnValues, if no more than wantRows remain). Counts rows rather
	// than interpolating key values, so splits stay balanced on skewed
	// primary keys.
	PickRangeEnd(ctx context.Context, table *schema.Table, prevKey schema.ColumnValues, wantRows int64) (lastKey schema.ColumnValues, err error)

	// SampleRowWidth returns the teacher-style sampled average row byte
	// width for table, used to translate TargetBlockSize (bytes) into a row
	// count for PickRangeEnd.
	SampleRowWidth(ctx context.Context, table *schema.Table) (avgBytes int64, err error)

	// IterateRange streams every row of table in (prevKey, lastKey], in
	// primary-key order, to fn. Used on the From side to ship ROWS, and on
	// the To side by RowApplier to read the current destination contents of
	// the same range for merge-walk reconciliation.
	IterateRange(ctx context.Context, table *schema.Table, prevKey, lastKey schema.ColumnValues, fn RowFunc) error

	// ApplyInsert, ApplyUpdate, and ApplyDelete mutate the destination. Rows
	// passed to ApplyUpdate carry the full new column set; ApplyDelete needs
	// only the key. RowApplier batches calls up to an implementation-defined
	// size before each adapter is required to flush.
	ApplyInsert(ctx context.Context, table *schema.Table, rows []Row) error
	ApplyUpdate(ctx context.Context, table *schema.Table, rows []Row) error
	ApplyDelete(ctx context.Context, table *schema.Table, keys []schema.ColumnValues) error

	Close() error
}

// EncodeRow turns a Row's columns into the wire.Value array a ROWS command
// ships: one BytesValue per column (Nil for SQL NULL), matching
// wire.RangeHasher's own encoding choice so a receiver can hash what it
// applies and get the same digest the sender computed.
func EncodeRow(r Row) wire.Value {
	vals := make([]wire.Value, len(r.Columns))
	for i, c := range r.Columns {
		vals[i] = wire.BytesValue(c)
	}
	return wire.ArrayOf(vals...)
}

// DecodeRow is the inverse of EncodeRow, given the key separately (ROWS
// ships each row as a [key, columns] pair; see internal/rangecmp's
// gatherRows and decodeRows).
func DecodeRow(key schema.ColumnValues, v wire.Value) Row {
	cols := make([][]byte, len(v.Array))
	for i, e := range v.Array {
		cols[i] = e.Bytes
	}
	return Row{Key: key, Columns: cols}
}
