package dap

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferCloser struct {
	bytes.Buffer
}

func (b *bufferCloser) Close() error { return nil }

func TestStreamTransportFraming(t *testing.T) {
	buf := &bufferCloser{}
	tr := NewRawTransport(buf)

	require.NoError(t, tr.Send(&Message{Content: json.RawMessage(`{"test":"value"}`)}))
	assert.Equal(t, "Content-Length: 16\r\n\r\n{\"test\":\"value\"}", buf.String())
}

func TestStreamTransportReceive(t *testing.T) {
	input := "Content-Length: 17\r\n\r\n{\"test\": \"value\"}Content-Length: 2\r\n\r\n{}"
	tr := &StreamTransport{reader: bufio.NewReader(strings.NewReader(input))}

	msg, err := tr.Receive()
	require.NoError(t, err)
	assert.JSONEq(t, `{"test":"value"}`, string(msg.Content))

	msg, err = tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(msg.Content))

	_, err = tr.Receive()
	assert.Error(t, err)
}

func TestStreamTransportRoundTrip(t *testing.T) {
	left, right := net.Pipe()
	a := NewRawTransport(left)
	b := NewRawTransport(right)
	defer a.Close()
	defer b.Close()

	go func() {
		_ = a.Send(&Message{Content: json.RawMessage(`{"seq":1,"type":"request","command":"threads"}`)})
	}()

	msg, err := b.Receive()
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":1,"type":"request","command":"threads"}`, string(msg.Content))
}

func TestStreamTransportReceiveAfterClose(t *testing.T) {
	left, right := net.Pipe()
	tr := NewRawTransport(left)
	require.NoError(t, right.Close())

	_, err := tr.Receive()
	assert.Error(t, err)
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tr := NewWebSocketTransportFromConn(conn)
		defer tr.Close()
		for {
			msg, err := tr.Receive()
			if err != nil {
				return
			}
			if err := tr.Send(msg); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	tr, err := NewWebSocketTransport(url)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send(&Message{Content: json.RawMessage(`{"seq":3}`)}))
	msg, err := tr.Receive()
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":3}`, string(msg.Content))
}

func TestWebSocketTransportDialFailure(t *testing.T) {
	_, err := NewWebSocketTransport("ws://127.0.0.1:1/none")
	assert.Error(t, err)
}
