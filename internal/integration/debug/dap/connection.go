package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	godap "github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/dapsession/internal/integration"
	"github.com/dshills/dapsession/internal/logging"
)

const tracerName = "github.com/dshills/dapsession/internal/integration/debug/dap"

// Event is an event received from (or synthesized for) a debug adapter.
type Event struct {
	Seq   int
	Event string
	Body  json.RawMessage
}

// Decode unmarshals the event body into v. An empty body leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Body) == 0 {
		return nil
	}
	return json.Unmarshal(e.Body, v)
}

// RequestHandler answers a request initiated by the debug adapter.
// The returned value becomes the response body; an error becomes a failure response.
type RequestHandler func(ctx context.Context, args json.RawMessage) (any, error)

// envelope is the union of the request, response, and event shapes used for decoding.
type envelope struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	RequestSeq int             `json:"request_seq,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Event      string          `json:"event,omitempty"`
}

type outgoingRequest struct {
	godap.Request
	Arguments any `json:"arguments,omitempty"`
}

type outgoingResponse struct {
	godap.Response
	Body any `json:"body,omitempty"`
}

type result struct {
	envelope envelope
	err      error
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger used for protocol traffic.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Connection) {
		c.log = log
	}
}

// WithTracer sets the tracer used to span requests.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Connection) {
		c.tracer = tracer
	}
}

// Connection owns the request/response/event channel to one adapter instance.
//
// Responses are correlated to requests by sequence number. Events are
// delivered on a single dispatcher goroutine in arrival order, so a listener
// may issue requests of its own without blocking response delivery.
type Connection struct {
	sessionID string
	transport Transport
	log       *logrus.Entry
	tracer    trace.Tracer

	seq atomic.Int64

	mu       sync.Mutex
	pending  map[int]chan result
	disposed bool

	handlersMu      sync.RWMutex
	listeners       map[string]*integration.Emitter[Event]
	anyListeners    integration.Emitter[Event]
	requestHandlers map[string]RequestHandler

	queue      *eventQueue
	ctx        context.Context
	cancel     context.CancelFunc
	onDidClose integration.Emitter[struct{}]
	closed     chan struct{}
	once       sync.Once
}

// NewConnection starts reading from transport on behalf of sessionID.
func NewConnection(sessionID string, transport Transport, opts ...Option) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		sessionID:       sessionID,
		transport:       transport,
		log:             logging.Discard(),
		tracer:          otel.Tracer(tracerName),
		pending:         make(map[int]chan result),
		listeners:       make(map[string]*integration.Emitter[Event]),
		requestHandlers: make(map[string]RequestHandler),
		queue:           newEventQueue(),
		ctx:             ctx,
		cancel:          cancel,
		closed:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("session_id", sessionID)

	go c.receiveLoop()
	go c.dispatchLoop()
	return c
}

// SessionID returns the id of the session owning this connection.
func (c *Connection) SessionID() string {
	return c.sessionID
}

// Disposed reports whether the connection has been disposed.
func (c *Connection) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Closed is closed once every queued event has been delivered after disposal.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// OnEvent registers a listener for one event kind. Listeners of the same kind
// are called in registration order.
func (c *Connection) OnEvent(kind string, listener func(Event)) integration.Disposable {
	c.handlersMu.Lock()
	emitter, ok := c.listeners[kind]
	if !ok {
		emitter = &integration.Emitter[Event]{}
		c.listeners[kind] = emitter
	}
	c.handlersMu.Unlock()
	return emitter.Subscribe(listener)
}

// OnAnyEvent registers a listener called after the kind-specific listeners of every event.
func (c *Connection) OnAnyEvent(listener func(Event)) integration.Disposable {
	return c.anyListeners.Subscribe(listener)
}

// OnRequest installs the handler for an adapter-initiated request, replacing any previous one.
func (c *Connection) OnRequest(command string, handler RequestHandler) {
	c.handlersMu.Lock()
	c.requestHandlers[command] = handler
	c.handlersMu.Unlock()
}

// OnDidClose registers a listener fired once after the connection is disposed
// and its queued events have been delivered.
func (c *Connection) OnDidClose(listener func()) integration.Disposable {
	return c.onDidClose.Subscribe(func(struct{}) { listener() })
}

// Fire queues a locally synthesized event for delivery to listeners.
func (c *Connection) Fire(kind string, body any) {
	var raw json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.log.WithError(err).WithField("event", kind).Warn("marshal synthetic event")
			return
		}
		raw = data
	}
	c.queue.push(Event{Event: kind, Body: raw})
}

// SendRequest sends a request and waits for the correlated response body.
//
// It fails with ErrConnectionClosed when the connection is (or becomes)
// disposed and with an *AdapterError when the adapter reports failure.
func (c *Connection) SendRequest(ctx context.Context, command string, args any) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "dap."+command, trace.WithAttributes(
		attribute.String("dap.session_id", c.sessionID),
		attribute.String("dap.command", command),
	))
	defer span.End()

	body, err := c.sendRequest(ctx, command, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return body, err
}

// Call sends a request and decodes the response body into out (which may be nil).
func (c *Connection) Call(ctx context.Context, command string, args any, out any) error {
	body, err := c.SendRequest(ctx, command, args)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", command, err)
	}
	return nil
}

func (c *Connection) sendRequest(ctx context.Context, command string, args any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", command, ErrConnectionClosed)
	}
	seq := int(c.seq.Add(1))
	waiter := make(chan result, 1)
	c.pending[seq] = waiter
	c.mu.Unlock()

	req := outgoingRequest{
		Request: godap.Request{
			ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: "request"},
			Command:         command,
		},
		Arguments: args,
	}
	content, err := json.Marshal(req)
	if err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}

	c.log.WithFields(logrus.Fields{"command": command, "seq": seq}).Debug("dap request")
	if err := c.transport.Send(&Message{Content: content}); err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case <-ctx.Done():
		c.forget(seq)
		return nil, ctx.Err()
	case res := <-waiter:
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", command, res.err)
		}
		if !res.envelope.Success {
			return nil, newAdapterError(command, res.envelope)
		}
		return res.envelope.Body, nil
	}
}

func newAdapterError(command string, env envelope) *AdapterError {
	adapterErr := &AdapterError{Command: command, Message: env.Message}
	if len(env.Body) > 0 {
		var body godap.ErrorResponseBody
		if err := json.Unmarshal(env.Body, &body); err == nil {
			adapterErr.Body = body.Error
		}
	}
	return adapterErr
}

func (c *Connection) forget(seq int) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// Dispose fails all in-flight requests, closes the transport, and rejects
// further requests. It is safe to call more than once and from listeners.
func (c *Connection) Dispose() {
	c.dispose(nil)
}

func (c *Connection) dispose(cause error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	pending := c.pending
	c.pending = make(map[int]chan result)
	c.mu.Unlock()

	if cause != nil {
		c.log.WithError(cause).Debug("dap connection lost")
	}

	for _, waiter := range pending {
		waiter <- result{err: ErrConnectionClosed}
	}

	c.cancel()
	if err := c.transport.Close(); err != nil {
		c.log.WithError(err).Debug("close transport")
	}
	c.queue.close()
}

func (c *Connection) receiveLoop() {
	for {
		msg, err := c.transport.Receive()
		if err != nil {
			c.dispose(fmt.Errorf("receive: %w", err))
			return
		}
		c.handleMessage(msg.Content)
	}
}

func (c *Connection) handleMessage(content []byte) {
	var env envelope
	if err := json.Unmarshal(content, &env); err != nil {
		c.log.WithError(err).Warn("discarding malformed dap message")
		return
	}

	switch env.Type {
	case "response":
		c.mu.Lock()
		waiter, ok := c.pending[env.RequestSeq]
		delete(c.pending, env.RequestSeq)
		c.mu.Unlock()
		if ok {
			waiter <- result{envelope: env}
		}
	case "event":
		c.queue.push(Event{Seq: env.Seq, Event: env.Event, Body: env.Body})
	case "request":
		go c.handleRequest(env)
	default:
		c.log.WithField("type", env.Type).Warn("discarding dap message of unknown type")
	}
}

func (c *Connection) handleRequest(req envelope) {
	c.handlersMu.RLock()
	handler := c.requestHandlers[req.Command]
	c.handlersMu.RUnlock()

	resp := outgoingResponse{
		Response: godap.Response{
			ProtocolMessage: godap.ProtocolMessage{Seq: int(c.seq.Add(1)), Type: "response"},
			RequestSeq:      req.Seq,
			Command:         req.Command,
			Success:         true,
		},
	}

	if handler == nil {
		resp.Success = false
		resp.Message = fmt.Sprintf("unsupported request %q", req.Command)
	} else if body, err := handler(c.ctx, req.Arguments); err != nil {
		resp.Success = false
		resp.Message = err.Error()
	} else {
		resp.Body = body
	}

	content, err := json.Marshal(resp)
	if err != nil {
		c.log.WithError(err).WithField("command", req.Command).Error("marshal reverse response")
		return
	}
	if c.Disposed() {
		return
	}
	if err := c.transport.Send(&Message{Content: content}); err != nil {
		c.log.WithError(err).WithField("command", req.Command).Warn("send reverse response")
	}
}

func (c *Connection) dispatchLoop() {
	defer func() {
		close(c.closed)
		c.onDidClose.Fire(struct{}{})
		c.onDidClose.Dispose()
	}()

	for {
		evt, ok := c.queue.pop()
		if !ok {
			return
		}

		c.handlersMu.RLock()
		emitter := c.listeners[evt.Event]
		c.handlersMu.RUnlock()

		if emitter != nil {
			emitter.Fire(evt)
		}
		c.anyListeners.Fire(evt)
	}
}

// eventQueue is an unbounded FIFO so the receive loop never blocks on listeners.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(evt Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, evt)
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks for the next event. After close it drains what is left and then reports false.
func (q *eventQueue) pop() (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			evt := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return evt, true
		}
		if q.closed {
			q.mu.Unlock()
			return Event{}, false
		}
		q.mu.Unlock()
		<-q.notify
	}
}
