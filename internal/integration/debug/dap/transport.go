// Package dap implements the Debug Adapter Protocol connection used by debug sessions.
package dap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	godap "github.com/google/go-dap"
	"github.com/gorilla/websocket"
)

// Transport carries framed DAP messages to and from one debug adapter.
type Transport interface {
	// Send sends a message to the debug adapter.
	Send(msg *Message) error

	// Receive blocks until the next message from the debug adapter arrives.
	Receive() (*Message, error)

	// Close closes the transport.
	Close() error
}

// Message is the JSON content of one DAP message.
type Message struct {
	Content json.RawMessage
}

// StreamTransport implements Transport over a byte stream using the
// Content-Length framing of the base protocol.
type StreamTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewRawTransport wraps any io.ReadWriteCloser as a Transport.
func NewRawTransport(rwc io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// NewSocketTransport dials a debug adapter listening on a TCP address.
func NewSocketTransport(address string) (*StreamTransport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewRawTransport(conn), nil
}

// Send writes a framed message.
func (t *StreamTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := godap.WriteBaseMessage(t.rwc, msg.Content); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive reads the next framed message.
func (t *StreamTransport) Receive() (*Message, error) {
	content, err := godap.ReadBaseMessage(t.reader)
	if err != nil {
		return nil, err
	}
	return &Message{Content: content}, nil
}

// Close closes the underlying stream.
func (t *StreamTransport) Close() error {
	return t.rwc.Close()
}

// WebSocketTransport implements Transport over a WebSocket connection.
// Each text frame carries exactly one DAP message without base-protocol headers.
type WebSocketTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketTransport dials a debug adapter exposed at a ws:// or wss:// URL.
func NewWebSocketTransport(url string) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketTransportFromConn(conn), nil
}

// NewWebSocketTransportFromConn wraps an established WebSocket connection.
func NewWebSocketTransportFromConn(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

// Send writes one message as a text frame.
func (t *WebSocketTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, msg.Content); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive reads the next text frame.
func (t *WebSocketTransport) Receive() (*Message, error) {
	for {
		kind, content, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return &Message{Content: content}, nil
		}
	}
}

// Close closes the WebSocket connection.
func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}
