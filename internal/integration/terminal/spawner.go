package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/dshills/dapsession/internal/integration/debug"
	"github.com/dshills/dapsession/internal/integration/process"
)

// Kinds of terminal a runInTerminal request may ask for.
const (
	KindIntegrated = "integrated"
	KindExternal   = "external"
)

// Spawner implements debug.TerminalSpawner on top of a process.Supervisor.
type Spawner struct {
	sup  *process.Supervisor
	out  io.Writer
	size *pty.Winsize
	log  *logrus.Entry

	closed  atomic.Bool
	copiers conc.WaitGroup
}

var _ debug.TerminalSpawner = (*Spawner)(nil)

// Option configures a Spawner.
type Option func(*Spawner)

// WithOutput sets where terminal output is written. Defaults to io.Discard.
func WithOutput(w io.Writer) Option {
	return func(s *Spawner) {
		s.out = w
	}
}

// WithSize sets the pseudo-terminal size used for integrated terminals.
func WithSize(rows, cols uint16) Option {
	return func(s *Spawner) {
		s.size = &pty.Winsize{Rows: rows, Cols: cols}
	}
}

// WithLogger sets the spawner logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Spawner) {
		s.log = log
	}
}

// NewSpawner creates a spawner that starts processes through sup.
func NewSpawner(sup *process.Supervisor, opts ...Option) *Spawner {
	s := &Spawner{
		sup:  sup,
		out:  io.Discard,
		size: &pty.Winsize{Rows: 24, Cols: 80},
		log:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.out = &lockedWriter{w: s.out}
	s.log = s.log.WithField("component", "terminal")
	return s
}

// Spawn starts req and returns the process id of the started program.
func (s *Spawner) Spawn(ctx context.Context, req debug.TerminalRequest) (int, error) {
	if s.closed.Load() {
		return 0, ErrSpawnerClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(req.Args) == 0 {
		return 0, ErrEmptyCommand
	}

	cmd := exec.Command(req.Args[0], req.Args[1:]...)
	if errors.Is(cmd.Err, exec.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrCommandNotFound, req.Args[0])
	}
	cmd.Dir = req.Cwd
	cmd.Env = mergeEnv(os.Environ(), req.Env)

	name := req.Title
	if name == "" {
		name = req.Args[0]
	}

	var (
		proc *process.Process
		err  error
	)
	switch req.Kind {
	case "", KindIntegrated:
		proc, err = s.sup.StartPTY(name, cmd, s.size)
		if err == nil {
			s.copiers.Go(func() {
				// the pty read fails with EIO once the program exits
				_, _ = io.Copy(s.out, proc.Terminal)
				_ = proc.Close()
			})
		}
	case KindExternal:
		cmd.Stdout = s.out
		cmd.Stderr = s.out
		proc, err = s.sup.Start(name, cmd)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKind, req.Kind)
	}
	if err != nil {
		return 0, fmt.Errorf("run in terminal: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"kind":  lo.Ternary(req.Kind == "", KindIntegrated, req.Kind),
		"title": name,
		"pid":   proc.PID(),
	}).Info("started program for debug adapter")
	return proc.PID(), nil
}

// Close terminates every spawned program, waiting up to timeout before
// killing them, and waits for their output to drain.
func (s *Spawner) Close(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}
	s.sup.Shutdown(timeout)
	s.copiers.Wait()
}

// mergeEnv appends extra to base in key order. exec keeps the last value
// of a duplicated key.
func mergeEnv(base []string, extra map[string]string) []string {
	keys := lo.Keys(extra)
	sort.Strings(keys)
	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
