// Package launch implements the Launcher of §6: given a From and a To
// database URL, it locates the per-dialect ks_<protocol> helper binaries
// next to its own executable, forks N From helpers (optionally tunnelled
// through ssh) and one To helper, wires each From helper's stdio to a
// dedicated pair of pipes landing on the To helper's well-known descriptor
// range, and waits for all of them to exit. Grounded on the teacher's own
// process fan-out in GetaSynchronizedMysqlConnections — generalized from
// "fork goroutines sharing one process" into "fork OS processes", since §6
// requires the From side to be able to run on a different host over SSH.
package launch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"kitchensync/internal/dburl"
)

// Config describes one Launcher run.
type Config struct {
	From dburl.URL
	To   dburl.URL

	// Via, if non-empty, is the host the From helpers are tunnelled through:
	// `ssh -C -c blowfish <via> ks_<protocol> ...`.
	Via string

	// Workers is N, the number of From helpers forked (and the number of
	// goroutines the single To helper runs). Defaults to 1.
	Workers int

	Ignore []string
	Only   []string

	Partial       bool
	Verbose       bool
	Trace         bool
	RollbackAfter bool
	Compress      bool
	Snapshot      bool
	BlockSize     int64

	// HelperDir is the directory ks_<protocol> binaries are looked up in.
	// Callers normally pass filepath.Dir of their own executable.
	HelperDir string

	// Stderr, if set, is where every helper's stderr is copied; defaults to
	// the Launcher process's own stderr when nil.
	Stderr io.Writer
}

func (c Config) workers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

func (c Config) stderr() io.Writer {
	if c.Stderr != nil {
		return c.Stderr
	}
	return os.Stderr
}

// Run forks every helper process, wires them together, and blocks until all
// of them have exited. It returns a non-nil error if any helper exited
// non-zero or could not be started, matching §6's "exit 0 on success,
// non-zero on any failure".
func Run(ctx context.Context, cfg Config) error {
	n := cfg.workers()

	fromHelper := helperPath(cfg.HelperDir, cfg.From.Protocol)
	toHelper := helperPath(cfg.HelperDir, cfg.To.Protocol)

	// toExtra holds, in order, the N read ends (descriptors startfd..+N-1 in
	// the To process) followed by the N write ends (startfd+N..+2N-1).
	toExtra := make([]*os.File, 2*n)
	fromCmds := make([]*exec.Cmd, n)

	// parentOwned collects every pipe *os.File the Launcher itself opened,
	// so it can close its own copies once every child has inherited theirs —
	// otherwise a child closing its end is not enough to signal EOF to its
	// peer, since the Launcher would still be holding a duplicate.
	var parentOwned []*os.File
	cleanup := func() {
		for _, f := range parentOwned {
			_ = f.Close()
		}
	}

	for i := 0; i < n; i++ {
		toWritesFromReads, toWritesFromReadsW, err := os.Pipe() // To -> From
		if err != nil {
			cleanup()
			return fmt.Errorf("launch: pipe %d: %w", i, err)
		}
		fromWritesToReads, fromWritesToReadsW, err := os.Pipe() // From -> To
		if err != nil {
			cleanup()
			return fmt.Errorf("launch: pipe %d: %w", i, err)
		}
		parentOwned = append(parentOwned, toWritesFromReads, toWritesFromReadsW, fromWritesToReads, fromWritesToReadsW)

		args := append(append([]string{}, cfg.From.Args()...), commonArgs(cfg, "from", i == 0, 0)...)
		fromCmds[i] = buildFromCmd(ctx, cfg.Via, fromHelper, args, toWritesFromReads, fromWritesToReadsW, cfg.stderr())

		toExtra[i] = fromWritesToReads      // To reads at startfd+i
		toExtra[n+i] = toWritesFromReadsW   // To writes at startfd+N+i
	}

	toArgs := append(append([]string{}, cfg.To.Args()...), commonArgs(cfg, "to", false, n)...)
	toCmd := exec.CommandContext(ctx, toHelper, toArgs...)
	toCmd.Stderr = cfg.stderr()
	toCmd.ExtraFiles = toExtra

	if err := toCmd.Start(); err != nil {
		cleanup()
		return fmt.Errorf("launch: starting %s: %w", toHelper, err)
	}
	for i, cmd := range fromCmds {
		if err := cmd.Start(); err != nil {
			cleanup()
			_ = toCmd.Process.Kill()
			return fmt.Errorf("launch: starting from helper %d: %w", i, err)
		}
	}

	// Every child has now inherited its own duplicate of each descriptor it
	// needs; the Launcher's copies would otherwise keep every pipe's write
	// end artificially open.
	cleanup()

	var firstErr error
	if err := toCmd.Wait(); err != nil {
		firstErr = fmt.Errorf("to helper: %w", err)
	}
	for i, cmd := range fromCmds {
		if err := cmd.Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("from helper %d: %w", i, err)
		}
	}
	return firstErr
}

func buildFromCmd(ctx context.Context, via, helper string, args []string, stdin, stdout *os.File, stderr io.Writer) *exec.Cmd {
	var cmd *exec.Cmd
	if via != "" {
		sshArgs := append([]string{"-C", "-c", "blowfish", via, helper}, args...)
		cmd = exec.CommandContext(ctx, "ssh", sshArgs...)
	} else {
		cmd = exec.CommandContext(ctx, helper, args...)
	}
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd
}

// commonArgs renders the flags every helper needs regardless of dialect,
// forwarded from the Launcher's own flags.
func commonArgs(cfg Config, role string, leader bool, workers int) []string {
	args := []string{"--role=" + role}
	switch role {
	case "from":
		args = append(args, "--leader="+strconv.FormatBool(leader))
	case "to":
		args = append(args, "--workers="+strconv.Itoa(workers))
	}
	args = append(args, "--block-size="+strconv.FormatInt(cfg.BlockSize, 10))
	for _, t := range cfg.Ignore {
		args = append(args, "--ignore="+t)
	}
	for _, t := range cfg.Only {
		args = append(args, "--only="+t)
	}
	if cfg.Partial {
		args = append(args, "--partial")
	}
	if cfg.Verbose {
		args = append(args, "--verbose")
	}
	if cfg.Trace {
		args = append(args, "--trace")
	}
	if cfg.RollbackAfter {
		args = append(args, "--rollback-after")
	}
	if cfg.Compress {
		args = append(args, "--compress")
	}
	if cfg.Snapshot {
		args = append(args, "--snapshot")
	}
	return args
}

func helperPath(dir, protocol string) string {
	name := "ks_" + protocol
	if dir == "" {
		return name
	}
	return dir + string(os.PathSeparator) + name
}
