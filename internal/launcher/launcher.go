// Package launcher starts every participant of a run as a child process, the
// way mpiexec starts MPI ranks.
//
// Each child is the same executable with the same arguments. It learns its
// place in the world from the environment: DBPIPE_RANK, DBPIPE_SIZE,
// DBPIPE_PEERS and DBPIPE_RUN_ID, plus DBPIPE_STATUS_ADDR shifted by rank
// when a status address is configured. If any child fails the others are
// interrupted, and the launcher exits with the worst child status.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWaitDelay is how long an interrupted child has to exit before it is
// killed.
const DefaultWaitDelay = 5 * time.Second

// Config describes the children to start.
type Config struct {
	// Executable defaults to the running binary.
	Executable string
	Args       []string
	Size       int
	Peers      []string
	RunID      string
	// StatusAddr is host:port of rank 0's status server; rank r gets
	// port+r. Empty disables status servers.
	StatusAddr string
	// Env is the base environment, os.Environ() when nil.
	Env       []string
	Stdout    io.Writer
	Stderr    io.Writer
	WaitDelay time.Duration
	Logger    *zap.Logger
}

// Launcher runs one child per rank.
type Launcher struct {
	cfg Config
	log *zap.Logger
}

// ExitError reports a child that did not exit cleanly.
type ExitError struct {
	Rank int
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("rank %d exited with status %d: %v", e.Rank, e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// New creates a launcher.
func New(cfg Config) *Launcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	return &Launcher{cfg: cfg, log: cfg.Logger.Named("launcher")}
}

// Run starts all children and waits for them. It returns the worst exit
// status, 0 when every child succeeded. The error is non-nil when the
// children could not be started or one of them failed.
func (l *Launcher) Run(ctx context.Context) (int, error) {
	if l.cfg.Size < 1 {
		return 1, fmt.Errorf("launch: world size %d", l.cfg.Size)
	}
	if len(l.cfg.Peers) != l.cfg.Size {
		return 1, fmt.Errorf("launch: %d peers for a world of %d", len(l.cfg.Peers), l.cfg.Size)
	}
	exe := l.cfg.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return 1, fmt.Errorf("launch: locate executable: %w", err)
		}
	}
	base := l.cfg.Env
	if base == nil {
		base = os.Environ()
	}

	l.log.Info("Launching participants",
		zap.String("run_id", l.cfg.RunID),
		zap.Int("size", l.cfg.Size),
		zap.Strings("peers", l.cfg.Peers),
	)

	var (
		mu    sync.Mutex
		worst int
	)
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < l.cfg.Size; rank++ {
		env, err := l.childEnv(base, rank)
		if err != nil {
			return 1, err
		}

		cmd := exec.CommandContext(gctx, exe, l.cfg.Args...)
		cmd.Env = env
		cmd.Stdout = l.cfg.Stdout
		cmd.Stderr = l.cfg.Stderr
		cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
		cmd.WaitDelay = l.cfg.WaitDelay

		if err := cmd.Start(); err != nil {
			err = fmt.Errorf("launch rank %d: %w", rank, err)
			// Children already started are interrupted through gctx.
			g.Go(func() error { return err })
			break
		}
		l.log.Debug("Participant started", zap.Int("rank", rank), zap.Int("pid", cmd.Process.Pid))

		g.Go(func() error {
			err := cmd.Wait()
			code := exitCode(err)
			mu.Lock()
			worst = max(worst, code)
			mu.Unlock()

			if code != 0 {
				l.log.Warn("Participant failed", zap.Int("rank", rank), zap.Int("status", code), zap.Error(err))
				return &ExitError{Rank: rank, Code: code, Err: err}
			}
			l.log.Debug("Participant exited", zap.Int("rank", rank))
			return nil
		})
	}

	err := g.Wait()
	if err != nil && worst == 0 {
		worst = 1
	}
	return worst, err
}

func (l *Launcher) childEnv(base []string, rank int) ([]string, error) {
	status := ""
	if l.cfg.StatusAddr != "" {
		var err error
		if status, err = shiftPort(l.cfg.StatusAddr, rank); err != nil {
			return nil, err
		}
	}

	overrides := map[string]string{
		"DBPIPE_RANK":        strconv.Itoa(rank),
		"DBPIPE_SIZE":        strconv.Itoa(l.cfg.Size),
		"DBPIPE_PEERS":       strings.Join(l.cfg.Peers, ","),
		"DBPIPE_RUN_ID":      l.cfg.RunID,
		"DBPIPE_STATUS_ADDR": status,
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[name]; !ok {
			env = append(env, kv)
		}
	}
	for _, name := range []string{"DBPIPE_RANK", "DBPIPE_SIZE", "DBPIPE_PEERS", "DBPIPE_RUN_ID", "DBPIPE_STATUS_ADDR"} {
		env = append(env, name+"="+overrides[name])
	}
	return env, nil
}

// shiftPort adds offset to the port of addr. Port 0 stays 0.
func shiftPort(addr string, offset int) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("status address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("status address %q: bad port: %w", addr, err)
	}
	if p != 0 {
		p += offset
	}
	return net.JoinHostPort(host, strconv.Itoa(p)), nil
}

// exitCode maps a Wait error to a process status. Children killed by a
// signal count as 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}
