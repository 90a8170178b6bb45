package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/multierr"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited normally or with an error.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is a debuggee or helper started on behalf of a debug adapter.
//
// A process either has piped standard streams or, when started in a
// pseudo-terminal, a single Terminal file carrying both directions.
// It is safe for concurrent use.
type Process struct {
	// ID is the supervisor-assigned identifier.
	ID string

	// Name is a human-readable name, usually the terminal title.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Stdin, Stdout and Stderr are set for streams the supervisor piped.
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// Terminal is the pty master for processes started in a pseudo-terminal.
	Terminal *os.File

	// Started is the time the process was started.
	Started time.Time

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	closeOnce sync.Once
	closeErr  error
}

// NewProcess wraps cmd, which must not have been started.
func NewProcess(id, name string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Name: name,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 before the process exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning reports whether the process is running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited reports whether the process exited, normally or by signal.
func (p *Process) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the operating system process id, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Signal sends sig to a running process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return fmt.Errorf("signal %s: %w", p.ID, ErrProcessNotStarted)
	}
	return p.Cmd.Process.Signal(sig)
}

// Kill sends SIGKILL.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Terminate sends SIGTERM.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}
	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Name, err)
	}
	p.markStarted()
	return nil
}

func (p *Process) startPTY(size *pty.Winsize) error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}
	f, err := pty.StartWithSize(p.Cmd, size)
	if err != nil {
		return fmt.Errorf("start %s in pty: %w", p.Name, err)
	}
	p.Terminal = f
	p.markStarted()
	return nil
}

func (p *Process) markStarted() {
	p.Started = time.Now()
	p.state.Store(int32(StateRunning))
	go p.wait()
}

func (p *Process) wait() {
	err := p.Cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	exitCode := 0
	state := StateExited
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			state = StateKilled
		}
	default:
		exitCode = -1
	}

	p.exitCode.Store(int32(exitCode))
	p.state.Store(int32(state))
	close(p.done)
}

// Close releases the pipes and the pty of the process. It does not kill it.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		closeOne := func(name string, c io.Closer) {
			if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				p.closeErr = multierr.Append(p.closeErr, fmt.Errorf("close %s: %w", name, err))
			}
		}
		if p.Stdin != nil {
			closeOne("stdin", p.Stdin)
		}
		if p.Stdout != nil {
			closeOne("stdout", p.Stdout)
		}
		if p.Stderr != nil {
			closeOne("stderr", p.Stderr)
		}
		if p.Terminal != nil {
			closeOne("terminal", p.Terminal)
		}
	})
	return p.closeErr
}

// Runtime returns how long the process has been running.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	return time.Since(p.Started)
}

var (
	// ErrProcessNotStarted is returned when an operation needs a running process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when starting a process twice.
	ErrProcessAlreadyStarted = errors.New("process already started")
)
