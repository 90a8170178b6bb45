package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dapsession/internal/integration/debug/dap/daptest"
)

type workspace struct {
	dir    string
	config string
	log    string
}

func newWorkspace(t *testing.T, launch string) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:    dir,
		config: filepath.Join(dir, "dapsession.yaml"),
		log:    filepath.Join(dir, "dapsession.log"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".dapsession"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".dapsession", "launch.yaml"), []byte(launch), 0o644))
	require.NoError(t, os.WriteFile(ws.config, []byte(fmt.Sprintf(`
workspace_folder: %s
log:
  level: debug
  file: %s
debug:
  dial_attempts: 2
  dial_delay: 10ms
  thread_debounce: 1ms
trace:
  enabled: true
`, dir, ws.log)), 0o644))
	return ws
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dapsession dev")
}

func TestConfigs(t *testing.T) {
	ws := newWorkspace(t, `
version: "1"
configurations:
  - type: go
    request: launch
    name: app
    program: ./main.go
    debugServer: 4711
  - type: python
    request: attach
    name: worker
    debugServer: localhost:5678
`)

	out, err := execute(t, context.Background(), "configs", "--config", ws.config)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `app\s+go\s+launch\s+127\.0\.0\.1:4711`, out)
	assert.Regexp(t, `worker\s+python\s+attach\s+localhost:5678`, out)
}

func TestConfigs_MissingLaunchFile(t *testing.T) {
	ws := newWorkspace(t, "configurations: []\n")
	_, err := execute(t, context.Background(), "configs", "--config", ws.config, "--launch", "nope.yaml")
	assert.ErrorContains(t, err, "read launch file")
}

func TestRun_UnknownConfiguration(t *testing.T) {
	ws := newWorkspace(t, `
configurations:
  - {type: go, request: launch, name: a, debugServer: 1}
  - {type: go, request: launch, name: b, debugServer: 2}
`)
	_, err := execute(t, context.Background(), "run", "--config", ws.config, "c")
	assert.ErrorContains(t, err, `no configuration named "c"`)

	_, err = execute(t, context.Background(), "run", "--config", ws.config)
	assert.ErrorContains(t, err, "has 2 configurations")
}

func TestRun_SessionLifecycle(t *testing.T) {
	saved := idleGrace
	idleGrace = 20 * time.Millisecond
	t.Cleanup(func() { idleGrace = saved })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	adapters := make(chan *daptest.Adapter, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		a := daptest.Serve(conn)
		a.Handle("initialize", func(daptest.Request) (any, error) {
			return godap.Capabilities{SupportsConfigurationDoneRequest: true}, nil
		})
		a.Handle("threads", func(daptest.Request) (any, error) {
			return godap.ThreadsResponseBody{Threads: []godap.Thread{{Id: 1, Name: "main"}}}, nil
		})
		adapters <- a
	}()

	ws := newWorkspace(t, fmt.Sprintf(`
configurations:
  - type: go
    request: launch
    name: app
    program: ${workspaceFolder}/main.go
    debugServer: %s
`, ln.Addr().String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "run", "--config", ws.config, "app")
		done <- err
	}()

	var adapter *daptest.Adapter
	select {
	case adapter = <-adapters:
	case <-ctx.Done():
		t.Fatal("adapter was never dialed")
	}
	t.Cleanup(func() { _ = adapter.Close() })

	require.NoError(t, adapter.WaitFor(ctx, "launch", 1))
	require.NoError(t, adapter.SendEvent("initialized", nil))
	require.NoError(t, adapter.WaitFor(ctx, "threads", 1))
	require.NoError(t, adapter.SendEvent("terminated", nil))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("run did not return after the session terminated")
	}

	launches := adapter.Requests("launch")
	require.Len(t, launches, 1)
	var args map[string]any
	require.NoError(t, launches[0].Decode(&args))
	assert.Equal(t, filepath.Join(ws.dir, "main.go"), args["program"])
	assert.Contains(t, adapter.Commands(), "disconnect")

	logged, err := os.ReadFile(ws.log)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "debug session started")
	assert.Contains(t, string(logged), "span=dap.initialize")
}
