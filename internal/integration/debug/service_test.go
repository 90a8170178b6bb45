package debug

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/dapsession/internal/integration"
	"github.com/dshills/dapsession/internal/integration/debug/dap"
)

func fastRetry() integration.RetryConfig {
	return integration.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffMultiplier: 1}
}

func TestLocalService_Resolve(t *testing.T) {
	svc := NewLocalService(WithVariables(Variables{WorkspaceFolder: "/ws"}))

	cfg, err := svc.Resolve(context.Background(), Configuration{
		Type: "go", Request: RequestLaunch, Name: "app",
		Fields: map[string]any{"program": "${workspaceFolder}/main.go"},
	})
	require.NoError(t, err)
	assert.True(t, cfg.Resolved)
	assert.Equal(t, "/ws/main.go", cfg.StringField("program"))

	_, err = svc.Resolve(context.Background(), Configuration{Name: "x"})
	assert.ErrorContains(t, err, "type is required")
}

func TestLocalService_CreateRequiresAddress(t *testing.T) {
	svc := NewLocalService()
	_, err := svc.Create(context.Background(), Configuration{Type: "go", Request: RequestLaunch, Name: "app"})
	assert.ErrorContains(t, err, "debugServer or debugServerURL is required")
}

func TestLocalService_OpenUnknown(t *testing.T) {
	svc := NewLocalService()
	_, err := svc.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, svc.Stop(context.Background(), "nope"))
}

func TestLocalService_Socket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		msg, err := dap.NewRawTransport(conn).Receive()
		if err == nil {
			received <- msg.Content
		}
	}()

	svc := NewLocalService(WithDialRetry(fastRetry()))
	ctx := context.Background()
	id, err := svc.Create(ctx, Configuration{Type: "go", Request: RequestLaunch, Name: "app", DebugServer: ln.Addr().String()})
	require.NoError(t, err)

	transport, err := svc.Open(ctx, id)
	require.NoError(t, err)
	require.NoError(t, transport.Send(&dap.Message{Content: json.RawMessage(`{"seq":1}`)}))

	select {
	case got := <-received:
		assert.JSONEq(t, `{"seq":1}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not receive the message")
	}

	require.NoError(t, svc.Stop(ctx, id))
	_, err = svc.Open(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLocalService_SocketDialFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	svc := NewLocalService(WithDialRetry(fastRetry()))
	id, err := svc.Create(context.Background(), Configuration{Type: "go", Request: RequestLaunch, Name: "app", DebugServer: addr})
	require.NoError(t, err)

	_, err = svc.Open(context.Background(), id)
	assert.ErrorContains(t, err, "all 2 attempts failed")
}

func TestLocalService_WebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	events := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		transport := dap.NewWebSocketTransportFromConn(conn)
		msg, err := transport.Receive()
		if err != nil {
			return
		}
		var req godap.Request
		if json.Unmarshal(msg.Content, &req) == nil {
			events <- req.Command
		}
	}))
	defer server.Close()

	svc := NewLocalService(WithDialRetry(fastRetry()))
	ctx := context.Background()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	id, err := svc.Create(ctx, Configuration{Type: "go", Request: RequestLaunch, Name: "app", DebugServerURL: url})
	require.NoError(t, err)

	transport, err := svc.Open(ctx, id)
	require.NoError(t, err)
	require.NoError(t, transport.Send(&dap.Message{Content: json.RawMessage(`{"seq":1,"type":"request","command":"initialize"}`)}))

	select {
	case cmd := <-events:
		assert.Equal(t, "initialize", cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not receive the request")
	}
	assert.NoError(t, svc.Stop(ctx, id))
}
