// Package workermain is the shared entry point behind every ks_<protocol>
// helper binary. It owns argv parsing, stdio/descriptor wiring, and fanning
// out the To side's N goroutines over one shared SyncQueue — the one piece
// of logic that is identical across dialects, parameterized only by the
// dialect's own dbadapter.Open function. Grounded on the teacher's single
// main() in parasync.go (flag parsing idiom, log.SetFlags), split into a
// library the three cmd/ks_* mains each call with one line.
package workermain

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"kitchensync/internal/dbadapter"
	"kitchensync/internal/queue"
	"kitchensync/internal/wire"
	"kitchensync/internal/worker"
)

// OpenFunc opens a dialect connection, returning it as the dialect-neutral
// Adapter interface. Each cmd/ks_<protocol> main supplies its own dialect
// package's Open function here.
type OpenFunc func(ctx context.Context, host string, port int, user, password, database string) (dbadapter.Adapter, error)

// startFD is the first file descriptor number exec.Cmd.ExtraFiles assigns in
// a child process (0, 1, 2 are stdin/stdout/stderr): the Launcher's
// ExtraFiles[0] always lands on fd 3 in the child. Matching §6's
// startfd..startfd+N-1 / startfd+N..startfd+2N-1 layout only requires both
// ends agree on this one constant.
const startFD = 3

// Main parses args (normally os.Args[1:]) and runs the From or To role
// accordingly, returning a process exit code. stdin/stdout back the From
// role's single pipe pair; the To role instead opens its N pipe pairs
// directly off well-known descriptor numbers, ignoring stdin/stdout.
func Main(args []string, stdin io.Reader, stdout io.Writer, open OpenFunc) int {
	log.SetFlags(log.Ldate | log.Lmicroseconds)

	cfg, err := parseArgs(args)
	if err != nil {
		log.Print(err)
		return 2
	}

	ctx := context.Background()

	switch cfg.role {
	case roleFrom:
		return runFrom(ctx, cfg, stdin, stdout, open)
	case roleTo:
		return runTo(ctx, cfg, open)
	default:
		log.Printf("unknown --role %q", cfg.role)
		return 2
	}
}

const (
	roleFrom = "from"
	roleTo   = "to"
)

type config struct {
	host     string
	port     int
	user     string
	password string
	database string

	role          string
	leader        bool
	workers       int
	blockSize     int64
	ignore        arrayFlags
	only          arrayFlags
	partial       bool
	verbose       bool
	trace         bool
	rollbackAfter bool
	compress      bool
	snapshot      bool
}

// arrayFlags is the teacher's own repeatable-flag idiom (see paradump.go's
// -db/-table/-exclude-table), reused here for --ignore/--only.
type arrayFlags []string

func (a *arrayFlags) String() string { return strings.Join(*a, ",") }
func (a *arrayFlags) Set(v string) error {
	*a = append(*a, v)
	return nil
}

// parseArgs expects the five positional fields dburl.URL.Args emits
// (username, password, host, port, database, with "-" as the empty
// placeholder) followed by the Launcher-forwarded flags.
func parseArgs(args []string) (config, error) {
	if len(args) < 5 {
		return config{}, fmt.Errorf("workermain: expected 5 positional arguments, got %d", len(args))
	}
	var cfg config
	cfg.user = unplaceholder(args[0])
	cfg.password = unplaceholder(args[1])
	cfg.host = unplaceholder(args[2])
	cfg.database = unplaceholder(args[4])

	if portStr := unplaceholder(args[3]); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return config{}, fmt.Errorf("workermain: invalid port %q: %w", portStr, err)
		}
		cfg.port = port
	}

	fs := flag.NewFlagSet("ks-worker", flag.ContinueOnError)
	fs.StringVar(&cfg.role, "role", "", "from or to")
	fs.BoolVar(&cfg.leader, "leader", false, "this worker is the leader of its side")
	fs.IntVar(&cfg.workers, "workers", 1, "number of sibling goroutines (to side only)")
	fs.Int64Var(&cfg.blockSize, "block-size", worker.DefaultTargetBlockSize, "proposed target block size in bytes")
	fs.Var(&cfg.ignore, "ignore", "table to ignore (repeatable)")
	fs.Var(&cfg.only, "only", "table to include exclusively (repeatable)")
	fs.BoolVar(&cfg.partial, "partial", false, "best-effort commit on failure instead of rollback")
	fs.BoolVar(&cfg.verbose, "verbose", false, "verbose logging")
	fs.BoolVar(&cfg.trace, "trace", false, "trace-level logging")
	fs.BoolVar(&cfg.rollbackAfter, "rollback-after", false, "roll back instead of commit even on success (testing)")
	fs.BoolVar(&cfg.compress, "compress", false, "wrap the peer stream in zstd")
	fs.BoolVar(&cfg.snapshot, "snapshot", false, "snapshot sharing among From workers on one queue; a From helper runs a single worker, so none takes place")
	if err := fs.Parse(args[5:]); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func unplaceholder(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// runFrom drives the lone worker that owns stdin/stdout, talking to the To
// side's single paired goroutine.
func runFrom(ctx context.Context, cfg config, stdin io.Reader, stdout io.Writer, open OpenFunc) int {
	adapter, err := open(ctx, cfg.host, cfg.port, cfg.user, cfg.password, cfg.database)
	if err != nil {
		log.Print(err)
		return 1
	}
	defer adapter.Close()

	in, err := wire.WrapReader(stdin, cfg.compress)
	if err != nil {
		log.Print(err)
		return 1
	}
	out, err := wire.WrapWriter(stdout, cfg.compress)
	if err != nil {
		log.Print(err)
		return 1
	}

	w := worker.New(worker.Config{
		Side:            worker.From,
		Leader:          cfg.leader,
		Adapter:         adapter,
		Queue:           queue.New(1),
		In:              wire.NewReader(in),
		Out:             wire.NewWriter(out),
		Closer:          out,
		TargetBlockSize: cfg.blockSize,
		SnapshotEnabled: cfg.snapshot,
		Ignore:          toSet(cfg.ignore),
		Only:            toSet(cfg.only),
		Partial:         cfg.partial,
		RollbackAfter:   cfg.rollbackAfter,
		Verbose:         cfg.verbose,
		Trace:           cfg.trace,
	})
	if err := w.Run(ctx); err != nil {
		log.Print(err)
		return 1
	}
	return 0
}

// runTo drives the N goroutines that share one SyncQueue, each with its own
// DB connection and reading/writing a pair of descriptors the Launcher
// opened directly onto this process via ExtraFiles.
func runTo(ctx context.Context, cfg config, open OpenFunc) int {
	n := cfg.workers
	if n <= 0 {
		n = 1
	}

	q := queue.New(n)
	errs := make([]error, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		adapter, err := open(ctx, cfg.host, cfg.port, cfg.user, cfg.password, cfg.database)
		if err != nil {
			log.Print(err)
			return 1
		}
		defer adapter.Close()

		readFD := os.NewFile(uintptr(startFD+i), fmt.Sprintf("to-read-%d", i))
		writeFD := os.NewFile(uintptr(startFD+n+i), fmt.Sprintf("to-write-%d", i))

		in, err := wire.WrapReader(readFD, cfg.compress)
		if err != nil {
			log.Print(err)
			return 1
		}
		out, err := wire.WrapWriter(writeFD, cfg.compress)
		if err != nil {
			log.Print(err)
			return 1
		}

		w := worker.New(worker.Config{
			Side:            worker.To,
			Leader:          i == 0,
			Adapter:         adapter,
			Queue:           q,
			In:              wire.NewReader(in),
			Out:             wire.NewWriter(out),
			Closer:          out,
			TargetBlockSize: cfg.blockSize,
			SnapshotEnabled: cfg.snapshot,
			Ignore:          toSet(cfg.ignore),
			Only:            toSet(cfg.only),
			Partial:         cfg.partial,
			RollbackAfter:   cfg.rollbackAfter,
			Verbose:         cfg.verbose,
			Trace:           cfg.trace,
		})

		wg.Add(1)
		go func(i int, w *worker.Worker) {
			defer wg.Done()
			errs[i] = w.Run(ctx)
		}(i, w)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			log.Printf("worker %d: %v", i, err)
			return 1
		}
	}
	return 0
}
