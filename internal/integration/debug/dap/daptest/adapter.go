// Package daptest provides a scripted in-memory debug adapter for tests.
package daptest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/dshills/dapsession/internal/integration/debug/dap"
)

// Request is a request received by the fake adapter.
type Request struct {
	Seq       int
	Command   string
	Arguments json.RawMessage
}

// Decode unmarshals the request arguments into v.
func (r Request) Decode(v any) error {
	if len(r.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(r.Arguments, v)
}

// Response is the reply to a reverse request sent by the fake adapter.
type Response struct {
	Success bool
	Message string
	Body    json.RawMessage
}

// StructuredError makes a handler reply with a structured error body.
type StructuredError struct {
	Body godap.ErrorMessage
}

func (e *StructuredError) Error() string {
	return e.Body.Format
}

// Handler answers one request. A nil body with a nil error is an empty success.
type Handler func(req Request) (any, error)

// Adapter is a fake debug adapter speaking DAP over an in-memory pipe.
//
// Requests are answered in arrival order on a single goroutine. Commands
// without a handler get an empty success response.
type Adapter struct {
	transport *dap.StreamTransport
	client    *dap.StreamTransport

	mu       sync.Mutex
	seq      int
	handlers map[string]Handler
	requests []Request
	reverse  map[int]chan Response
	changed  chan struct{}

	done chan struct{}
}

// New creates a fake adapter and returns it with the client side transport.
func New() (*Adapter, dap.Transport) {
	server, client := net.Pipe()
	a := newAdapter(server)
	a.client = dap.NewRawTransport(client)
	go a.serve()
	return a, a.client
}

// Serve runs a fake adapter on conn, usually a socket accepted from a client
// that dialed it.
func Serve(conn io.ReadWriteCloser) *Adapter {
	a := newAdapter(conn)
	go a.serve()
	return a
}

func newAdapter(conn io.ReadWriteCloser) *Adapter {
	return &Adapter{
		transport: dap.NewRawTransport(conn),
		handlers:  make(map[string]Handler),
		reverse:   make(map[int]chan Response),
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Handle installs the handler for command.
func (a *Adapter) Handle(command string, h Handler) {
	a.mu.Lock()
	a.handlers[command] = h
	a.mu.Unlock()
}

// Fail makes command answer with a failure response carrying message.
func (a *Adapter) Fail(command, message string) {
	a.Handle(command, func(Request) (any, error) {
		return nil, errors.New(message)
	})
}

// Requests returns the recorded requests, optionally filtered to the given commands.
func (a *Adapter) Requests(commands ...string) []Request {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(commands) == 0 {
		return append([]Request(nil), a.requests...)
	}
	var out []Request
	for _, r := range a.requests {
		for _, c := range commands {
			if r.Command == c {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Commands returns the commands of all recorded requests in arrival order.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.requests))
	for i, r := range a.requests {
		out[i] = r.Command
	}
	return out
}

// Count returns how many requests for command were received.
func (a *Adapter) Count(command string) int {
	return len(a.Requests(command))
}

// WaitFor blocks until at least n requests for command were received.
func (a *Adapter) WaitFor(ctx context.Context, command string, n int) error {
	for {
		a.mu.Lock()
		count := 0
		for _, r := range a.requests {
			if r.Command == command {
				count++
			}
		}
		changed := a.changed
		a.mu.Unlock()

		if count >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d %s requests (have %d): %w", n, command, count, ctx.Err())
		case <-changed:
		case <-a.done:
			return fmt.Errorf("adapter closed while waiting for %s", command)
		}
	}
}

// SendEvent sends an event to the client.
func (a *Adapter) SendEvent(event string, body any) error {
	msg := struct {
		godap.Event
		Body any `json:"body,omitempty"`
	}{
		Event: godap.Event{
			ProtocolMessage: godap.ProtocolMessage{Seq: a.nextSeq(), Type: "event"},
			Event:           event,
		},
		Body: body,
	}
	return a.send(msg)
}

// SendRequest sends a reverse request to the client and waits for its reply.
func (a *Adapter) SendRequest(ctx context.Context, command string, args any) (Response, error) {
	seq := a.nextSeq()
	waiter := make(chan Response, 1)

	a.mu.Lock()
	a.reverse[seq] = waiter
	a.mu.Unlock()

	msg := struct {
		godap.Request
		Arguments any `json:"arguments,omitempty"`
	}{
		Request: godap.Request{
			ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: "request"},
			Command:         command,
		},
		Arguments: args,
	}
	if err := a.send(msg); err != nil {
		return Response{}, err
	}

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case resp := <-waiter:
		return resp, nil
	}
}

// Close shuts the adapter side of the pipe down, which the client observes as a lost connection.
func (a *Adapter) Close() error {
	return a.transport.Close()
}

// Done is closed when the adapter stops serving.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

func (a *Adapter) nextSeq() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

func (a *Adapter) send(v any) error {
	content, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return a.transport.Send(&dap.Message{Content: content})
}

type incoming struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command"`
	Arguments  json.RawMessage `json:"arguments"`
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

func (a *Adapter) serve() {
	defer close(a.done)

	for {
		msg, err := a.transport.Receive()
		if err != nil {
			return
		}
		var in incoming
		if err := json.Unmarshal(msg.Content, &in); err != nil {
			continue
		}

		switch in.Type {
		case "request":
			a.answer(Request{Seq: in.Seq, Command: in.Command, Arguments: in.Arguments})
		case "response":
			a.mu.Lock()
			waiter, ok := a.reverse[in.RequestSeq]
			delete(a.reverse, in.RequestSeq)
			a.mu.Unlock()
			if ok {
				waiter <- Response{Success: in.Success, Message: in.Message, Body: in.Body}
			}
		}
	}
}

func (a *Adapter) answer(req Request) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	close(a.changed)
	a.changed = make(chan struct{})
	handler := a.handlers[req.Command]
	a.mu.Unlock()

	var body any
	var err error
	if handler != nil {
		body, err = handler(req)
	}

	resp := struct {
		godap.Response
		Body any `json:"body,omitempty"`
	}{
		Response: godap.Response{
			ProtocolMessage: godap.ProtocolMessage{Seq: a.nextSeq(), Type: "response"},
			RequestSeq:      req.Seq,
			Command:         req.Command,
			Success:         err == nil,
		},
	}
	if err != nil {
		resp.Message = err.Error()
		var structured *StructuredError
		if errors.As(err, &structured) {
			resp.Body = godap.ErrorResponseBody{Error: &structured.Body}
		}
	} else {
		resp.Body = body
	}
	_ = a.send(resp)
}
