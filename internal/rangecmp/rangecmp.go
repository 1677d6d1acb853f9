// Package rangecmp implements the divide-and-conquer range-hash dialog that
// finds the rows two database connections disagree on without shipping rows
// that already match. One Comparator drives the exchange for a single open
// table; the From side always proposes the first candidate range, and both
// sides run the same transition policy when they receive one, but only a
// From-side Comparator may emit a data-bearing ROWS — a To-side Comparator
// that hits a mismatch it cannot subdivide further re-signals HASH_FAIL with
// its failed boundary unchanged, telling the From side to ship unconditionally
// on its next turn.
package rangecmp

import (
	"bytes"
	"context"
	"fmt"

	"kitchensync/internal/dbadapter"
	"kitchensync/internal/schema"
	"kitchensync/internal/wire"
)

// Side identifies which end of a worker pair a Comparator is driving.
type Side int

const (
	From Side = iota
	To
)

func (s Side) String() string {
	if s == From {
		return "from"
	}
	return "to"
}

// smallRangeRows bounds two related decisions: a mismatched range at or
// below this row count is shipped rather than halved again, and a matched
// range's freshly-proposed next range at or below this count is shipped
// inline (fused with the next hash proposal) rather than hashed and waited
// on.
const smallRangeRows = 8

// RowSink receives the rows a From-side peer ships for one range. Only a
// To-side Comparator needs one.
type RowSink interface {
	ApplyRange(ctx context.Context, prevKey, lastKey schema.ColumnValues, rows []dbadapter.Row) error
}

// Comparator runs the range-hash dialog for one table, on one side of a
// worker pair.
type Comparator struct {
	Side            Side
	Adapter         dbadapter.Adapter
	Table           *schema.Table
	TargetBlockSize int64
	In              *wire.Reader
	Out             *wire.Writer
	Sink            RowSink

	rowWidth int64
}

// Run drives the table to completion: Start()s the dialog on the From side,
// then answers every inbound command until the table is confirmed in sync or
// a terminal ROWS ends it. Returns once no further commands are due.
func (c *Comparator) Run(ctx context.Context) error {
	if c.Side == From {
		out, terminal, err := c.Start(ctx)
		if err != nil {
			return err
		}
		if err := c.Out.WriteCommand(out); err != nil {
			return err
		}
		if terminal {
			return nil
		}
	}
	for {
		in, err := c.In.ReadCommand()
		if err != nil {
			return err
		}
		out, terminal, err := c.handle(ctx, in)
		if err != nil {
			return err
		}
		if out.Verb != wire.VerbUnknown {
			if err := c.Out.WriteCommand(out); err != nil {
				return err
			}
		}
		if terminal {
			return nil
		}
	}
}

// Start proposes the first candidate range, covering the whole table if it
// fits in one block. Only called on the From side. Always proposes a hash
// rather than shipping rows outright, even when the whole table fits in one
// range or is empty: the receiving side's handleCandidate is what decides
// whether the range already matches or must be shipped, the same transition
// every later range goes through after proposeNext.
func (c *Comparator) Start(ctx context.Context) (wire.Command, bool, error) {
	lastKey, err := c.nextRangeEnd(ctx, schema.ColumnValues{})
	if err != nil {
		return wire.Command{}, false, err
	}
	hash, _, err := c.Adapter.RangeHash(ctx, c.Table, schema.ColumnValues{}, lastKey)
	if err != nil {
		return wire.Command{}, false, err
	}
	return wire.New(wire.HASH_NEXT, schema.ColumnValues{}.Encode(), lastKey.Encode(), wire.BytesValue(hash)), false, nil
}

func (c *Comparator) handle(ctx context.Context, cmd wire.Command) (wire.Command, bool, error) {
	switch cmd.Verb {
	case wire.HASH_NEXT:
		prevKey := schema.DecodeColumnValues(cmd.Arg(0))
		lastKey := schema.DecodeColumnValues(cmd.Arg(1))
		return c.handleCandidate(ctx, prevKey, lastKey, schema.ColumnValues{}, cmd.Arg(2).Bytes, false)
	case wire.HASH_FAIL:
		prevKey := schema.DecodeColumnValues(cmd.Arg(0))
		lastKey := schema.DecodeColumnValues(cmd.Arg(1))
		failedLastKey := schema.DecodeColumnValues(cmd.Arg(2))
		return c.handleCandidate(ctx, prevKey, lastKey, failedLastKey, cmd.Arg(3).Bytes, true)
	case wire.ROWS:
		return c.applyRows(ctx, cmd)
	case wire.ROWS_AND_HASH_NEXT, wire.ROWS_AND_HASH_FAIL:
		return c.applyFused(ctx, cmd)
	case wire.QUIT:
		return wire.Command{}, true, nil
	default:
		return wire.Command{}, false, &wire.ProtocolError{Op: "range comparator", Err: fmt.Errorf("unexpected verb %s", cmd.Verb)}
	}
}

// handleCandidate is the transition policy run by whichever side just
// received a proposed range and its sender's hash.
func (c *Comparator) handleCandidate(ctx context.Context, prevKey, lastKey, failedLastKey schema.ColumnValues, peerHash []byte, hasFailed bool) (wire.Command, bool, error) {
	localHash, rowCount, err := c.Adapter.RangeHash(ctx, c.Table, prevKey, lastKey)
	if err != nil {
		return wire.Command{}, false, err
	}

	if bytes.Equal(localHash, peerHash) {
		if lastKey.Empty() {
			// Table end reached on an already-matching range: the peer that
			// sent this candidate is blocked on ReadCommand and needs an
			// explicit terminal reply, not silence. Nothing to ship, the
			// hash already confirmed both sides agree, so the ROWS carries no
			// row list at all: an empty list would be applied as an empty
			// source range and delete the receiver's rows in it.
			return wire.New(wire.ROWS, prevKey.Encode(), lastKey.Encode()), true, nil
		}
		return c.proposeNext(ctx, lastKey)
	}

	minimal := rowCount <= smallRangeRows || (hasFailed && schema.Compare(failedLastKey, lastKey) == 0)
	if minimal {
		if c.Side == From {
			return c.shipAndMaybeChain(ctx, prevKey, lastKey, wire.ROWS_AND_HASH_FAIL)
		}
		return wire.New(wire.HASH_FAIL, prevKey.Encode(), lastKey.Encode(), lastKey.Encode(), wire.BytesValue(localHash)), false, nil
	}

	wantRows := rowCount / 2
	if wantRows < 1 {
		wantRows = 1
	}
	mid, err := c.Adapter.PickRangeEnd(ctx, c.Table, prevKey, wantRows)
	if err != nil {
		return wire.Command{}, false, err
	}
	midHash, _, err := c.Adapter.RangeHash(ctx, c.Table, prevKey, mid)
	if err != nil {
		return wire.Command{}, false, err
	}
	return wire.New(wire.HASH_FAIL, prevKey.Encode(), mid.Encode(), lastKey.Encode(), wire.BytesValue(midHash)), false, nil
}

// proposeNext is run after a range is confirmed reconciled (by match, or
// because its rows were just applied): pick the next range starting at
// prevKey and either hash it or, if it's small enough or reaches table end,
// ship it inline fused with the hash for the range after that.
func (c *Comparator) proposeNext(ctx context.Context, prevKey schema.ColumnValues) (wire.Command, bool, error) {
	lastKey, err := c.nextRangeEnd(ctx, prevKey)
	if err != nil {
		return wire.Command{}, false, err
	}
	hash, rowCount, err := c.Adapter.RangeHash(ctx, c.Table, prevKey, lastKey)
	if err != nil {
		return wire.Command{}, false, err
	}
	if c.Side == From && (lastKey.Empty() || rowCount <= smallRangeRows) {
		return c.shipAndMaybeChain(ctx, prevKey, lastKey, wire.ROWS_AND_HASH_NEXT)
	}
	return wire.New(wire.HASH_NEXT, prevKey.Encode(), lastKey.Encode(), wire.BytesValue(hash)), false, nil
}

// shipAndMaybeChain ships every row of (prevKey, lastKey] and, unless lastKey
// already reaches table end, fuses in a speculative hash proposal for the
// range immediately after it under fusedVerb.
func (c *Comparator) shipAndMaybeChain(ctx context.Context, prevKey, lastKey schema.ColumnValues, fusedVerb wire.Verb) (wire.Command, bool, error) {
	rowsArray, err := c.gatherRows(ctx, prevKey, lastKey)
	if err != nil {
		return wire.Command{}, false, err
	}
	if lastKey.Empty() {
		return wire.New(wire.ROWS, prevKey.Encode(), lastKey.Encode(), rowsArray, wire.Nil()), true, nil
	}
	nextLastKey, err := c.nextRangeEnd(ctx, lastKey)
	if err != nil {
		return wire.Command{}, false, err
	}
	nextHash, _, err := c.Adapter.RangeHash(ctx, c.Table, lastKey, nextLastKey)
	if err != nil {
		return wire.Command{}, false, err
	}
	return wire.New(fusedVerb, prevKey.Encode(), lastKey.Encode(), rowsArray, wire.Nil(), nextLastKey.Encode(), wire.BytesValue(nextHash)), false, nil
}

func (c *Comparator) gatherRows(ctx context.Context, prevKey, lastKey schema.ColumnValues) (wire.Value, error) {
	var rows []wire.Value
	err := c.Adapter.IterateRange(ctx, c.Table, prevKey, lastKey, func(r dbadapter.Row) error {
		rows = append(rows, wire.ArrayOf(r.Key.Encode(), dbadapter.EncodeRow(r)))
		return nil
	})
	if err != nil {
		return wire.Value{}, err
	}
	return wire.ArrayOf(rows...), nil
}

func (c *Comparator) applyRows(ctx context.Context, cmd wire.Command) (wire.Command, bool, error) {
	prevKey := schema.DecodeColumnValues(cmd.Arg(0))
	lastKey := schema.DecodeColumnValues(cmd.Arg(1))
	if cmd.Arg(2).Kind == wire.KindNil {
		// No row list: the terminal reply to a range that matched at table
		// end. There is nothing to apply.
		return wire.Command{}, true, nil
	}
	rows, err := decodeRows(cmd.Arg(2))
	if err != nil {
		return wire.Command{}, false, err
	}
	if err := c.applyToSink(ctx, prevKey, lastKey, rows); err != nil {
		return wire.Command{}, false, err
	}
	if lastKey.Empty() {
		return wire.Command{}, true, nil
	}
	return c.proposeNext(ctx, lastKey)
}

func (c *Comparator) applyFused(ctx context.Context, cmd wire.Command) (wire.Command, bool, error) {
	prevKey := schema.DecodeColumnValues(cmd.Arg(0))
	lastKey := schema.DecodeColumnValues(cmd.Arg(1))
	rows, err := decodeRows(cmd.Arg(2))
	if err != nil {
		return wire.Command{}, false, err
	}
	if err := c.applyToSink(ctx, prevKey, lastKey, rows); err != nil {
		return wire.Command{}, false, err
	}
	nextLastKey := schema.DecodeColumnValues(cmd.Arg(4))
	nextHash := cmd.Arg(5).Bytes
	return c.handleCandidate(ctx, lastKey, nextLastKey, schema.ColumnValues{}, nextHash, false)
}

func (c *Comparator) applyToSink(ctx context.Context, prevKey, lastKey schema.ColumnValues, rows []dbadapter.Row) error {
	if c.Sink == nil {
		// A From-side Comparator has no sink; an empty row list carries
		// nothing to apply, so only real row data is refused.
		if len(rows) == 0 {
			return nil
		}
		return &wire.ProtocolError{Op: "range comparator", Err: fmt.Errorf("received ROWS with no sink configured (side=%s)", c.Side)}
	}
	return c.Sink.ApplyRange(ctx, prevKey, lastKey, rows)
}

func decodeRows(v wire.Value) ([]dbadapter.Row, error) {
	rows := make([]dbadapter.Row, 0, len(v.Array))
	for _, e := range v.Array {
		if len(e.Array) != 2 {
			return nil, &wire.ProtocolError{Op: "decode rows", Err: fmt.Errorf("malformed row entry")}
		}
		key := schema.DecodeColumnValues(e.Array[0])
		rows = append(rows, dbadapter.DecodeRow(key, e.Array[1]))
	}
	return rows, nil
}

// nextRangeEnd picks the end of the next range starting at prevKey, sized to
// TargetBlockSize via the table's sampled average row width.
func (c *Comparator) nextRangeEnd(ctx context.Context, prevKey schema.ColumnValues) (schema.ColumnValues, error) {
	width, err := c.sampledRowWidth(ctx)
	if err != nil {
		return nil, err
	}
	wantRows := c.TargetBlockSize / width
	if wantRows < 1 {
		wantRows = 1
	}
	return c.Adapter.PickRangeEnd(ctx, c.Table, prevKey, wantRows)
}

func (c *Comparator) sampledRowWidth(ctx context.Context) (int64, error) {
	if c.rowWidth > 0 {
		return c.rowWidth, nil
	}
	w, err := c.Adapter.SampleRowWidth(ctx, c.Table)
	if err != nil {
		return 0, err
	}
	if w < 1 {
		w = 1
	}
	c.rowWidth = w
	return w, nil
}
