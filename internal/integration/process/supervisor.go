package process

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// Supervisor tracks the processes started for debug sessions and
// reaps them on shutdown.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	shutdown chan struct{}
	closed   atomic.Bool

	// monitors has one goroutine per tracked process.
	monitors conc.WaitGroup

	maxProcesses  int
	onProcessExit func(p *Process)
	log           *logrus.Entry
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses limits the number of concurrent processes. 0 means unlimited.
func WithMaxProcesses(max int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = max
	}
}

// WithProcessExitCallback sets a callback run after a process exits.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// WithLogger sets the supervisor logger.
func WithLogger(log *logrus.Entry) SupervisorOption {
	return func(s *Supervisor) {
		s.log = log
	}
}

// NewSupervisor creates a process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		shutdown:  make(chan struct{}),
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "process")
	return s
}

// Start starts cmd with its standard streams piped unless the caller
// already configured them.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	return s.StartWithID(uuid.NewString(), name, cmd)
}

// StartWithID is Start with a caller-chosen id.
func (s *Supervisor) StartWithID(id, name string, cmd *exec.Cmd) (*Process, error) {
	return s.launch(id, name, cmd, func(proc *Process) error {
		var created []interface{ Close() error }
		cleanup := func() {
			for _, c := range created {
				_ = c.Close()
			}
		}

		if cmd.Stdin == nil {
			stdin, err := cmd.StdinPipe()
			if err != nil {
				cleanup()
				return fmt.Errorf("create stdin pipe: %w", err)
			}
			proc.Stdin = stdin
			created = append(created, stdin)
		}
		if cmd.Stdout == nil {
			stdout, err := cmd.StdoutPipe()
			if err != nil {
				cleanup()
				return fmt.Errorf("create stdout pipe: %w", err)
			}
			proc.Stdout = stdout
			created = append(created, stdout)
		}
		if cmd.Stderr == nil {
			stderr, err := cmd.StderrPipe()
			if err != nil {
				cleanup()
				return fmt.Errorf("create stderr pipe: %w", err)
			}
			proc.Stderr = stderr
			created = append(created, stderr)
		}

		if err := proc.start(); err != nil {
			cleanup()
			return err
		}
		return nil
	})
}

// StartPTY starts cmd attached to a new pseudo-terminal. The pty master
// is available as Process.Terminal. size may be nil.
func (s *Supervisor) StartPTY(name string, cmd *exec.Cmd, size *pty.Winsize) (*Process, error) {
	return s.launch(uuid.NewString(), name, cmd, func(proc *Process) error {
		return proc.startPTY(size)
	})
}

func (s *Supervisor) launch(id, name string, cmd *exec.Cmd, start func(*Process) error) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("%w: %d", ErrProcessLimit, s.maxProcesses)
	}
	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	proc := NewProcess(id, name, cmd)
	if err := start(proc); err != nil {
		return nil, err
	}

	s.processes[id] = proc
	s.monitors.Go(func() { s.monitor(proc) })

	s.log.WithFields(logrus.Fields{"process_id": id, "name": name, "pid": proc.PID()}).Debug("process started")
	return proc, nil
}

func (s *Supervisor) monitor(proc *Process) {
	<-proc.Done()

	s.log.WithFields(logrus.Fields{
		"process_id": proc.ID,
		"exit_code":  proc.ExitCode(),
		"state":      proc.State().String(),
	}).Debug("process exited")

	if s.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.WithField("panic", r).Error("process exit callback panicked")
				}
			}()
			s.onProcessExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns the process with id, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all tracked processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Kill sends SIGKILL to the process with id.
func (s *Supervisor) Kill(id string) error {
	return s.Signal(id, syscall.SIGKILL)
}

// Terminate sends SIGTERM to the process with id.
func (s *Supervisor) Terminate(id string) error {
	return s.Signal(id, syscall.SIGTERM)
}

// Signal sends sig to the process with id. Exited processes are ignored.
func (s *Supervisor) Signal(id string, sig syscall.Signal) error {
	proc := s.Get(id)
	if proc == nil {
		return ErrProcessNotFound
	}
	if !proc.IsRunning() {
		return nil
	}
	err := proc.Signal(sig)
	if errors.Is(err, ErrProcessNotStarted) {
		return nil
	}
	return err
}

// KillAll sends SIGKILL to every running process.
func (s *Supervisor) KillAll() {
	for _, p := range s.List() {
		if p.IsRunning() {
			_ = p.Kill()
		}
	}
}

// Shutdown stops accepting processes, sends SIGTERM to the running ones
// and kills whatever is left after timeout. It returns once every process
// has been reaped.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}
	close(s.shutdown)

	procs := s.List()
	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}

	done := make(chan struct{})
	go func() {
		s.monitors.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.log.WithField("remaining", s.Count()).Warn("processes ignored SIGTERM, killing")
		s.KillAll()
		<-done
	}

	for _, p := range procs {
		_ = p.Close()
	}
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// ShutdownChan is closed when shutdown begins.
func (s *Supervisor) ShutdownChan() <-chan struct{} {
	return s.shutdown
}

// Wait blocks until every tracked process has exited and been reaped.
func (s *Supervisor) Wait() {
	s.monitors.Wait()
}

var (
	// ErrProcessNotFound is returned when a process id is unknown.
	ErrProcessNotFound = errors.New("process not found")

	// ErrSupervisorShutdown is returned when starting a process after Shutdown.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrProcessLimit is returned when WithMaxProcesses is exceeded.
	ErrProcessLimit = errors.New("process limit reached")
)
