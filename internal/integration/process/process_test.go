package process

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, proc *Process) {
	t.Helper()
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %s did not exit", proc.Name)
	}
}

func TestNewProcess(t *testing.T) {
	proc := NewProcess("test-id", "echo", exec.Command("echo", "hello"))

	assert.Equal(t, "test-id", proc.ID)
	assert.Equal(t, StateCreated, proc.State())
	assert.Equal(t, -1, proc.ExitCode())
	assert.Equal(t, -1, proc.PID())
	assert.False(t, proc.IsRunning())
	assert.False(t, proc.HasExited())
	assert.Zero(t, proc.Runtime())
}

func TestProcess_StartTwice(t *testing.T) {
	proc := NewProcess("test-id", "echo", exec.Command("echo", "hello"))
	require.NoError(t, proc.start())
	assert.Positive(t, proc.PID())
	assert.False(t, proc.Started.IsZero())

	assert.ErrorIs(t, proc.start(), ErrProcessAlreadyStarted)
	waitDone(t, proc)
}

func TestProcess_ExitCode(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *exec.Cmd
		wantCode int
	}{
		{"success", exec.Command("true"), 0},
		{"failure", exec.Command("false"), 1},
		{"exit 42", exec.Command("sh", "-c", "exit 42"), 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := NewProcess("test-id", tt.name, tt.cmd)
			require.NoError(t, proc.start())
			waitDone(t, proc)

			assert.Equal(t, tt.wantCode, proc.ExitCode())
			assert.Equal(t, StateExited, proc.State())
			assert.True(t, proc.HasExited())
		})
	}
}

func TestProcess_Kill(t *testing.T) {
	proc := NewProcess("test-id", "sleep", exec.Command("sleep", "10"))
	require.NoError(t, proc.start())
	assert.True(t, proc.IsRunning())

	require.NoError(t, proc.Kill())
	waitDone(t, proc)

	assert.Equal(t, StateKilled, proc.State())
	assert.Error(t, proc.ExitError())
}

func TestProcess_Terminate(t *testing.T) {
	proc := NewProcess("test-id", "sleep", exec.Command("sleep", "10"))
	require.NoError(t, proc.start())

	require.NoError(t, proc.Signal(syscall.SIGTERM))
	waitDone(t, proc)
	assert.Equal(t, StateKilled, proc.State())
}

func TestProcess_SignalBeforeStart(t *testing.T) {
	proc := NewProcess("test-id", "sleep", exec.Command("sleep", "10"))
	assert.ErrorIs(t, proc.Terminate(), ErrProcessNotStarted)
}

func TestProcess_CloseWithoutStreams(t *testing.T) {
	proc := NewProcess("test-id", "true", exec.Command("true"))
	assert.NoError(t, proc.Close())
	assert.NoError(t, proc.Close())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "exited", StateExited.String())
	assert.Equal(t, "killed", StateKilled.String())
	assert.Equal(t, "unknown(9)", State(9).String())
}
