// Package worker implements the per-connection state machine described in
// SPEC_FULL.md §4.5: protocol and block-size negotiation, the three-phase
// snapshot barrier, schema load and comparison, table enqueue, the
// referential-integrity toggle, the per-table sync loop, and commit/rollback
// teardown. Generalized from the teacher's main() driving sequence in
// parasync.go (open connections, get a synchronized snapshot, load metadata,
// compare schema, dispatch to pipeline stages, summarize) into "one state
// machine per worker, run identically on both sides of a pair".
package worker

import (
	"context"
	"fmt"
	"io"
	"log"

	"kitchensync/internal/dbadapter"
	"kitchensync/internal/queue"
	"kitchensync/internal/rangecmp"
	"kitchensync/internal/rowapply"
	"kitchensync/internal/schema"
	"kitchensync/internal/wire"
)

// ProtocolVersion is the only wire protocol version this implementation
// speaks. Negotiation picks the minimum of both ends' versions; since there
// is only one version today, any peer advertising less is refused outright.
const ProtocolVersion = 1

// DefaultTargetBlockSize is the byte-size default proposed during
// negotiation, by analogy with the teacher's --chunksize default of 10000
// rows: at a plausible ~100 bytes/row this lands in the same ballpark while
// being a direct byte quantity, which is what TARGET_BLOCK_SIZE negotiates.
const DefaultTargetBlockSize int64 = 1 << 20

// Config wires a Worker to its connection, its local database, and the
// coordination state it shares with any sibling workers on the same side.
type Config struct {
	// Side is From or To, matching the asymmetry already established in
	// internal/rangecmp: the From side proposes candidate ranges and ships
	// rows; the To side applies them. At the worker level it also decides
	// which end drives the per-table sync loop (To pops and opens tables;
	// From reacts to OPEN).
	Side Side

	// Leader marks exactly one worker on each side — conventionally index 0
	// of however many the Launcher forked for that side — as responsible
	// for the cross-side schema exchange and, on the To side, for enqueuing
	// the table list every sibling worker on that side will Pop from.
	Leader bool

	Adapter dbadapter.Adapter
	Queue   *queue.SyncQueue

	In  *wire.Reader
	Out *wire.Writer
	// Closer, if set, is closed once Run returns, matching step 13's
	// "close output stream" — typically the write end of the pipe backing
	// Out, so the peer's read side observes EOF promptly.
	Closer io.Closer

	TargetBlockSize int64
	SnapshotEnabled bool

	Ignore map[string]bool
	Only   map[string]bool

	Partial       bool
	RollbackAfter bool

	Verbose bool
	Trace   bool
	Logger  *log.Logger
}

// Side identifies which end of a worker pair a Worker drives. It is the
// same role rangecmp.Comparator plays per table, so Worker reuses that type
// rather than minting an equivalent one.
type Side = rangecmp.Side

const (
	From = rangecmp.From
	To   = rangecmp.To
)

// Worker runs the state machine of §4.5 for one connection.
type Worker struct {
	Config

	localSchema *schema.Schema
}

// New returns a Worker ready to Run, filling in defaults Config left zero.
func New(cfg Config) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.TargetBlockSize <= 0 {
		cfg.TargetBlockSize = DefaultTargetBlockSize
	}
	return &Worker{Config: cfg}
}

func (w *Worker) logf(format string, args ...interface{}) {
	w.Logger.Printf("[%s] "+format, append([]interface{}{w.Side}, args...)...)
}

func (w *Worker) tracef(format string, args ...interface{}) {
	if w.Trace {
		w.logf(format, args...)
	}
}

// Run drives the worker through all thirteen steps of §4.5. Any error
// aborts the shared SyncQueue (waking any blocked siblings), runs the
// partial-commit-or-rollback policy of §7, and always closes Closer before
// returning so the peer's read side unblocks.
func (w *Worker) Run(ctx context.Context) (err error) {
	if w.Closer != nil {
		defer func() { _ = w.Closer.Close() }()
	}

	defer func() {
		if err != nil && w.Queue.Abort() {
			w.logf("aborting sync: %v", err)
		}
	}()

	if err = w.negotiateProtocol(); err != nil {
		return
	}
	if err = w.negotiateBlockSize(); err != nil {
		return
	}
	if err = w.shareSnapshot(ctx); err != nil {
		return
	}

	if err = w.loadSchema(ctx); err != nil {
		return
	}

	if err = w.Adapter.StartWriteTransaction(ctx); err != nil {
		return
	}
	defer func() {
		if err == nil {
			return
		}
		if w.Partial {
			if cerr := w.Adapter.CommitTransaction(ctx); cerr != nil {
				w.logf("best-effort partial commit failed: %v", cerr)
			}
		} else if rerr := w.Adapter.RollbackTransaction(ctx); rerr != nil {
			w.logf("rollback after failure failed: %v", rerr)
		}
	}()

	if w.Leader {
		if err = w.compareAndEnqueue(ctx); err != nil {
			return
		}
	}
	if err = w.Queue.WaitAtBarrier(); err != nil {
		return
	}

	if err = w.Adapter.DisableReferentialIntegrity(ctx); err != nil {
		return
	}

	if err = w.syncLoop(ctx); err != nil {
		return
	}

	if err = w.Queue.WaitAtBarrier(); err != nil {
		return
	}

	if err = w.Adapter.EnableReferentialIntegrity(ctx); err != nil {
		return
	}

	if w.RollbackAfter {
		err = w.Adapter.RollbackTransaction(ctx)
	} else {
		err = w.Adapter.CommitTransaction(ctx)
	}
	if err != nil {
		return
	}

	err = w.Out.WriteCommand(wire.New(wire.QUIT))
	return
}

// negotiateProtocol sends this worker's supported version and checks the
// peer's, both sides writing before either reads so the exchange completes
// in one round trip regardless of who happens to be scheduled first.
func (w *Worker) negotiateProtocol() error {
	if err := w.Out.WriteCommand(wire.New(wire.PROTOCOL, wire.Uint64(ProtocolVersion))); err != nil {
		return err
	}
	cmd, err := w.In.ReadCommand()
	if err != nil {
		return err
	}
	if cmd.Arg(0).Uint < ProtocolVersion {
		return fmt.Errorf("peer protocol version %d is incompatible with minimum supported %d", cmd.Arg(0).Uint, ProtocolVersion)
	}
	return nil
}

// negotiateBlockSize proposes TargetBlockSize and adopts the smaller of the
// two sides' proposals, so both ends of a pair always agree.
func (w *Worker) negotiateBlockSize() error {
	if err := w.Out.WriteCommand(wire.New(wire.TARGET_BLOCK_SIZE, wire.Uint64(uint64(w.TargetBlockSize)))); err != nil {
		return err
	}
	cmd, err := w.In.ReadCommand()
	if err != nil {
		return err
	}
	if peer := int64(cmd.Arg(0).Uint); peer < w.TargetBlockSize {
		w.TargetBlockSize = peer
	}
	w.tracef("negotiated target block size %d", w.TargetBlockSize)
	return nil
}

// shareSnapshot implements step 3. Consistent-snapshot coordination across
// several From-side connections to the same source database only matters
// when there is more than one such connection and the user asked for it; a
// To-side worker never needs one (it reads destination state through its
// own transaction, not a shared point-in-time view), so it always takes the
// WITHOUT_SNAPSHOT branch. Whichever branch either side actually takes, it
// tells its peer which wire verb it used as an informational marker and
// reads the peer's back — a single symmetric round trip that never depends
// on which worker's goroutine happens to run first.
func (w *Worker) shareSnapshot(ctx context.Context) error {
	if err := w.Queue.WaitAtBarrier(); err != nil {
		return err
	}

	usingSnapshot := w.Side == From && w.SnapshotEnabled && w.snapshotGroupSize() > 1
	verb := wire.WITHOUT_SNAPSHOT

	if usingSnapshot {
		verb = wire.EXPORT_SNAPSHOT
		if w.Leader {
			token, err := w.Adapter.ExportSnapshot(ctx)
			if err != nil {
				return err
			}
			w.Queue.PublishSnapshot(token)
		}
		if err := w.Queue.WaitAtBarrier(); err != nil {
			return err
		}
		if !w.Leader {
			if err := w.Adapter.ImportSnapshot(ctx, w.Queue.Snapshot()); err != nil {
				return err
			}
		}
		if err := w.Queue.WaitAtBarrier(); err != nil {
			return err
		}
		if w.Leader {
			if err := w.Adapter.UnholdSnapshot(ctx); err != nil {
				return err
			}
		}
	}

	if err := w.Out.WriteCommand(wire.New(verb)); err != nil {
		return err
	}
	_, err := w.In.ReadCommand()
	return err
}

// snapshotGroupSize reports how many sibling workers share this worker's
// queue, inferred from the barrier's own participant count rather than a
// separate field, so Config never has two numbers that could disagree.
func (w *Worker) snapshotGroupSize() int {
	return w.Queue.Workers()
}

// loadSchema populates this worker's own local catalog, filtered by
// Ignore/Only, unconditionally rather than leader-only: every worker needs
// its own schema.Table definitions for whatever tables it ends up handling
// (looked up by name out of OPEN/the sync loop), regardless of whether it
// is the one that runs the cross-side comparison.
func (w *Worker) loadSchema(ctx context.Context) error {
	full, err := w.Adapter.PopulateDatabaseSchema(ctx)
	if err != nil {
		return err
	}
	filtered := full.Filter(w.Ignore, w.Only)
	w.localSchema = &filtered
	return nil
}

// compareAndEnqueue is step 6 and 7, run only by the leader worker on each
// side. Both leaders send their own filtered schema and read the peer's in
// the same single-round-trip style as the negotiation steps above. The
// table order used for Enqueue is always the From side's: the To side
// trusts the order it just received over the wire rather than its own
// catalog's order, so that both sides' queues are drained in an identical
// sequence even if the two databases happen to report tables differently.
func (w *Worker) compareAndEnqueue(ctx context.Context) error {
	if err := w.Out.WriteCommand(wire.New(wire.SCHEMA, w.localSchema.Encode())); err != nil {
		return err
	}
	cmd, err := w.In.ReadCommand()
	if err != nil {
		return err
	}
	peer, err := schema.Decode(cmd.Arg(0))
	if err != nil {
		return &wire.ProtocolError{Op: "decode schema", Err: err}
	}

	var names []string
	if w.Side == From {
		if err := w.localSchema.Equivalent(&peer); err != nil {
			return err
		}
		for _, t := range w.localSchema.Tables {
			names = append(names, t.QualifiedName())
		}
	} else {
		if err := peer.Equivalent(w.localSchema); err != nil {
			return err
		}
		for _, t := range peer.Tables {
			names = append(names, t.QualifiedName())
		}
	}
	w.Queue.Enqueue(names)
	return nil
}

// syncLoop is step 9. Only the To side calls Pop: it is the side that can
// genuinely share a queue in memory across every sibling worker, so it is
// the one that decides, dynamically, which table each (From, To) pair works
// on next, telling its own paired From worker via OPEN. The From side never
// pops; it simply reacts to whatever table name its peer sends until it
// sees the empty-name terminator.
func (w *Worker) syncLoop(ctx context.Context) error {
	if w.Side == To {
		return w.syncLoopTo(ctx)
	}
	return w.syncLoopFrom(ctx)
}

func (w *Worker) syncLoopTo(ctx context.Context) error {
	for {
		if err := w.Queue.CheckAborted(); err != nil {
			return err
		}
		name, ok, err := w.Queue.Pop()
		if err != nil {
			return err
		}
		if !ok {
			return w.Out.WriteCommand(wire.New(wire.OPEN, wire.BytesValue(nil)))
		}
		table := w.localSchema.Lookup(name)
		if table == nil {
			return fmt.Errorf("table %q assigned by peer not found in local schema", name)
		}
		if err := w.Out.WriteCommand(wire.New(wire.OPEN, wire.BytesValue([]byte(name)))); err != nil {
			return err
		}
		w.tracef("opened %s", name)
		cmp := &rangecmp.Comparator{
			Side:            To,
			Adapter:         w.Adapter,
			Table:           table,
			TargetBlockSize: w.TargetBlockSize,
			In:              w.In,
			Out:             w.Out,
			Sink:            rowapply.New(w.Adapter, table),
		}
		if err := cmp.Run(ctx); err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
	}
}

func (w *Worker) syncLoopFrom(ctx context.Context) error {
	for {
		if err := w.Queue.CheckAborted(); err != nil {
			return err
		}
		cmd, err := w.In.ReadCommand()
		if err != nil {
			return err
		}
		if cmd.Verb != wire.OPEN {
			return &wire.ProtocolError{Op: "sync loop", Err: fmt.Errorf("expected OPEN, got %s", cmd.Verb)}
		}
		name := string(cmd.Arg(0).Bytes)
		if name == "" {
			return nil
		}
		table := w.localSchema.Lookup(name)
		if table == nil {
			return fmt.Errorf("table %q opened by peer not found in local schema", name)
		}
		w.tracef("opened %s", name)
		cmp := &rangecmp.Comparator{
			Side:            From,
			Adapter:         w.Adapter,
			Table:           table,
			TargetBlockSize: w.TargetBlockSize,
			In:              w.In,
			Out:             w.Out,
		}
		if err := cmp.Run(ctx); err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
	}
}
