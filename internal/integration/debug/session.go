package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	godap "github.com/google/go-dap"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/tidwall/gjson"

	"github.com/dshills/dapsession/internal/integration"
	"github.com/dshills/dapsession/internal/integration/debug/dap"
	"github.com/dshills/dapsession/internal/logging"
)

// State is the derived lifecycle state of a session.
type State int

const (
	// StateInactive means the connection is gone.
	StateInactive State = iota
	// StateInitializing means the adapter has not been configured yet.
	StateInitializing
	// StateRunning means no thread is stopped.
	StateRunning
	// StateStopped means at least one thread is stopped.
	StateStopped
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	clientID   = "dapsession"
	clientName = "dapsession"

	// DefaultThreadDebounce coalesces bursts of thread started events.
	DefaultThreadDebounce = 100 * time.Millisecond

	// DefaultRequestTimeout bounds requests issued from event handlers.
	DefaultRequestTimeout = 30 * time.Second
)

// Options identifies one start of a configuration.
type Options struct {
	Configuration Configuration

	// ID numbers repeated starts of the same configuration name, from 0.
	ID int
}

// TerminalRequest asks for a command to be run in a terminal.
type TerminalRequest struct {
	Kind  string
	Title string
	Cwd   string
	Args  []string
	Env   map[string]string
}

// TerminalSpawner runs the adapter's runInTerminal requests.
type TerminalSpawner interface {
	Spawn(ctx context.Context, req TerminalRequest) (processID int, err error)
}

// TerminatedEvent is fired when the adapter reports the debuggee terminated.
type TerminatedEvent struct {
	// Restart is the adapter's restart payload, nil when no restart was requested.
	Restart json.RawMessage
}

// SessionParams carries everything a SessionFactory needs.
type SessionParams struct {
	ID         string
	Options    Options
	Connection *dap.Connection
	Store      BreakpointStore
	Terminal   TerminalSpawner
	Logger     *logrus.Entry
	Clock      clock.Clock

	ThreadDebounce time.Duration
	RequestTimeout time.Duration

	// LaunchArguments renders the launch or attach arguments. The flattened
	// configuration is used when nil.
	LaunchArguments func(Configuration) (json.RawMessage, error)
}

// SessionFactory builds a session for one debug type.
type SessionFactory func(SessionParams) *Session

// Session drives one adapter connection through the debug lifecycle and
// holds the resulting threads, frames, and breakpoints.
type Session struct {
	id             string
	options        Options
	conn           *dap.Connection
	store          BreakpointStore
	terminal       TerminalSpawner
	log            *logrus.Entry
	launchArgs     func(Configuration) (json.RawMessage, error)
	requestTimeout time.Duration

	mu           sync.RWMutex
	capabilities godap.Capabilities
	initialized  bool
	// breakpointsLive is set once the first breakpoint sync begins; store
	// changes from then on are resynced.
	breakpointsLive bool
	breakpoints     map[string][]Breakpoint

	syncMu sync.Mutex

	threads         *threadArena
	refreshMu       sync.Mutex
	refreshTail     chan struct{}
	threadDebouncer *integration.Debouncer

	ctx    context.Context
	cancel context.CancelFunc

	onDidChange            integration.Emitter[*Session]
	onDidChangeBreakpoints integration.Emitter[string]
	onDidChangeThread      integration.Emitter[*Thread]
	onDidTerminate         integration.Emitter[TerminatedEvent]
	onDidExit              integration.Emitter[*Session]
	exitOnce               sync.Once

	toDispose integration.DisposableCollection
}

// NewSession wires a session to its connection. It is the default SessionFactory.
func NewSession(p SessionParams) *Session {
	log := p.Logger
	if log == nil {
		log = logging.Discard()
	}
	store := p.Store
	if store == nil {
		store = NewMemoryStore()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	debounce := p.ThreadDebounce
	if debounce <= 0 {
		debounce = DefaultThreadDebounce
	}
	timeout := p.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:             p.ID,
		options:        p.Options,
		conn:           p.Connection,
		store:          store,
		terminal:       p.Terminal,
		log:            log.WithFields(logrus.Fields{"session_id": p.ID, "session": p.Options.Configuration.Name}),
		launchArgs:     p.LaunchArguments,
		requestTimeout: timeout,
		breakpoints:    make(map[string][]Breakpoint),
		threads:        newThreadArena(),
		ctx:            ctx,
		cancel:         cancel,
	}
	s.threadDebouncer = integration.NewDebouncer(debounce, s.refreshAfterThreadStarted, integration.WithClock(clk))

	s.toDispose.Push(
		s.conn.OnEvent("initialized", s.onInitialized),
		s.conn.OnEvent("stopped", s.onStopped),
		s.conn.OnEvent("continued", s.onContinued),
		s.conn.OnEvent("thread", s.onThread),
		s.conn.OnEvent("capabilities", s.onCapabilities),
		s.conn.OnEvent("breakpoint", s.onBreakpoint),
		s.conn.OnEvent("output", s.onOutput),
		s.conn.OnEvent("terminated", s.onTerminated),
		s.conn.OnEvent("exited", s.onExited),
		s.conn.OnDidClose(s.onConnectionClosed),
		s.store.OnDidChangeMarkers(s.onMarkersChanged),
		integration.DisposeFunc(s.threadDebouncer.Dispose),
	)
	s.conn.OnRequest("runInTerminal", s.runInTerminal)
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Options returns the start options.
func (s *Session) Options() Options {
	return s.options
}

// Configuration returns the resolved configuration.
func (s *Session) Configuration() Configuration {
	return s.options.Configuration
}

// Label returns the configuration name, suffixed with the start number when repeated.
func (s *Session) Label() string {
	name := s.options.Configuration.Name
	if s.options.ID > 0 {
		return fmt.Sprintf("%s (%d)", name, s.options.ID+1)
	}
	return name
}

// Connection returns the underlying protocol connection.
func (s *Session) Connection() *dap.Connection {
	return s.conn
}

// State derives the lifecycle state from the connection, configuration, and threads.
func (s *Session) State() State {
	if s.conn.Disposed() {
		return StateInactive
	}
	s.mu.RLock()
	initialized := s.initialized
	s.mu.RUnlock()
	if !initialized {
		return StateInitializing
	}
	if s.threads.anyStopped() {
		return StateStopped
	}
	return StateRunning
}

// Capabilities returns the negotiated capability set.
func (s *Session) Capabilities() godap.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capabilities
}

// Threads returns the threads of the latest thread list, in adapter order.
func (s *Session) Threads() []*Thread {
	return s.threads.list()
}

// Thread returns the thread with the given id.
func (s *Session) Thread(id int) (*Thread, bool) {
	return s.threads.get(id)
}

// CurrentThread returns the focused thread, or nil.
func (s *Session) CurrentThread() *Thread {
	return s.threads.currentThread()
}

// SetCurrentThread focuses a thread and loads its frames if it is stopped.
func (s *Session) SetCurrentThread(ctx context.Context, id int) error {
	t, changed := s.threads.setCurrent(id)
	if t == nil {
		return fmt.Errorf("set current thread %d: %w", id, ErrThreadNotFound)
	}
	if changed {
		s.onDidChangeThread.Fire(t)
		s.fireDidChange()
	}
	return s.updateFrames(ctx)
}

// Breakpoints returns the reconciled breakpoints of uri.
func (s *Session) Breakpoints(uri string) []Breakpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.breakpoints[uri], func(b Breakpoint, _ int) Breakpoint { return b.clone() })
}

// BreakpointURIs returns the resources with reconciled breakpoints, sorted.
func (s *Session) BreakpointURIs() []string {
	s.mu.RLock()
	uris := lo.Keys(s.breakpoints)
	s.mu.RUnlock()
	sort.Strings(uris)
	return uris
}

// OnDidChange registers a listener for any state change.
func (s *Session) OnDidChange(listener func(*Session)) integration.Disposable {
	return s.onDidChange.Subscribe(listener)
}

// OnDidChangeBreakpoints registers a listener called with the uri whose breakpoints changed.
func (s *Session) OnDidChangeBreakpoints(listener func(uri string)) integration.Disposable {
	return s.onDidChangeBreakpoints.Subscribe(listener)
}

// OnDidChangeThread registers a listener for current thread changes.
func (s *Session) OnDidChangeThread(listener func(*Thread)) integration.Disposable {
	return s.onDidChangeThread.Subscribe(listener)
}

// OnDidTerminate registers a listener for the adapter's terminated event.
func (s *Session) OnDidTerminate(listener func(TerminatedEvent)) integration.Disposable {
	return s.onDidTerminate.Subscribe(listener)
}

// OnDidExit registers a listener fired once, when the debuggee exits or the connection is lost.
func (s *Session) OnDidExit(listener func(*Session)) integration.Disposable {
	return s.onDidExit.Subscribe(listener)
}

// Start runs the initialize handshake and then launches or attaches.
//
// On failure a local exited event is fired so observers see the session end,
// and the error wraps ErrLaunchFailed.
func (s *Session) Start(ctx context.Context) error {
	if err := s.initialize(ctx); err != nil {
		return s.launchFailed("initialize", err)
	}
	if err := s.launchOrAttach(ctx); err != nil {
		return s.launchFailed(s.options.Configuration.Request, err)
	}
	return nil
}

func (s *Session) launchFailed(step string, err error) error {
	s.log.WithError(err).Warn("debug session failed to start")
	s.conn.Fire("exited", godap.ExitedEventBody{ExitCode: 1})
	return fmt.Errorf("%s %s: %w: %w", step, s.Label(), ErrLaunchFailed, err)
}

func (s *Session) initialize(ctx context.Context) error {
	args := godap.InitializeRequestArguments{
		ClientID:                     clientID,
		ClientName:                   clientName,
		AdapterID:                    s.options.Configuration.Type,
		Locale:                       "en-US",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsVariableType:         true,
		SupportsVariablePaging:       true,
		SupportsRunInTerminalRequest: true,
	}
	body, err := s.conn.SendRequest(ctx, "initialize", args)
	if err != nil {
		return err
	}
	return s.mergeCapabilities(body)
}

func (s *Session) launchOrAttach(ctx context.Context) error {
	cfg := s.options.Configuration
	args, err := s.launchArguments()
	if err != nil {
		return fmt.Errorf("%s arguments: %w", cfg.Request, err)
	}

	request := cfg.Request
	if request != RequestAttach {
		request = RequestLaunch
	}
	_, err = s.conn.SendRequest(ctx, request, args)
	return err
}

// launchArguments shapes the configuration the way the adapter expects it
// in launch, attach and restart requests.
func (s *Session) launchArguments() (json.RawMessage, error) {
	if s.launchArgs != nil {
		return s.launchArgs(s.options.Configuration)
	}
	return json.Marshal(s.options.Configuration)
}

// mergeCapabilities overlays the fields present in raw onto the stored set.
func (s *Session) mergeCapabilities(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	caps := s.capabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		return fmt.Errorf("decode capabilities: %w", err)
	}
	s.capabilities = caps
	return nil
}

// Disconnect asks the adapter to end the session.
func (s *Session) Disconnect(ctx context.Context, args godap.DisconnectArguments) error {
	if _, err := s.conn.SendRequest(ctx, "disconnect", args); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Terminate asks the debuggee to terminate gracefully when the adapter
// supports it, and disconnects otherwise.
func (s *Session) Terminate(ctx context.Context) error {
	if s.Capabilities().SupportsTerminateRequest && s.options.Configuration.Request == RequestLaunch {
		if _, err := s.conn.SendRequest(ctx, "terminate", godap.TerminateArguments{}); err != nil {
			return fmt.Errorf("terminate: %w", err)
		}
		return nil
	}
	return s.Disconnect(ctx, godap.DisconnectArguments{TerminateDebuggee: true})
}

// Restart sends a native restart request when the adapter supports it.
// It reports false, without contacting the adapter, when it does not.
func (s *Session) Restart(ctx context.Context) (bool, error) {
	if !s.Capabilities().SupportsRestartRequest {
		return false, nil
	}
	args, err := s.launchArguments()
	if err != nil {
		return true, fmt.Errorf("restart arguments: %w", err)
	}
	if _, err := s.conn.SendRequest(ctx, "restart", map[string]json.RawMessage{"arguments": args}); err != nil {
		return true, fmt.Errorf("restart: %w", err)
	}
	return true, nil
}

// Continue resumes a thread.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	body, err := s.conn.SendRequest(ctx, "continue", godap.ContinueArguments{ThreadId: threadID})
	if err != nil {
		return fmt.Errorf("continue thread %d: %w", threadID, err)
	}
	s.applyContinued(threadID, gjson.GetBytes(body, "allThreadsContinued"))
	return nil
}

// Pause suspends a thread.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	if _, err := s.conn.SendRequest(ctx, "pause", godap.PauseArguments{ThreadId: threadID}); err != nil {
		return fmt.Errorf("pause thread %d: %w", threadID, err)
	}
	return nil
}

// Next steps over.
func (s *Session) Next(ctx context.Context, threadID int) error {
	return s.step(ctx, "next", threadID, godap.NextArguments{ThreadId: threadID})
}

// StepIn steps into.
func (s *Session) StepIn(ctx context.Context, threadID int) error {
	return s.step(ctx, "stepIn", threadID, godap.StepInArguments{ThreadId: threadID})
}

// StepOut steps out.
func (s *Session) StepOut(ctx context.Context, threadID int) error {
	return s.step(ctx, "stepOut", threadID, godap.StepOutArguments{ThreadId: threadID})
}

func (s *Session) step(ctx context.Context, command string, threadID int, args any) error {
	if _, err := s.conn.SendRequest(ctx, command, args); err != nil {
		return fmt.Errorf("%s thread %d: %w", command, threadID, err)
	}
	s.threads.clearOne(threadID)
	s.fireDidChange()
	return nil
}

// PauseAll pauses every running thread concurrently. Failures are logged
// and do not stop the other requests.
func (s *Session) PauseAll(ctx context.Context) {
	s.fanOut(ctx, "pause", func(t *Thread) bool { return !t.Stopped() }, s.Pause)
}

// ContinueAll resumes every stopped thread concurrently. Failures are logged
// and do not stop the other requests.
func (s *Session) ContinueAll(ctx context.Context) {
	s.fanOut(ctx, "continue", (*Thread).Stopped, s.Continue)
}

func (s *Session) fanOut(ctx context.Context, command string, applies func(*Thread) bool, fn func(context.Context, int) error) {
	var wg conc.WaitGroup
	for _, t := range s.threads.list() {
		if !applies(t) {
			continue
		}
		id := t.ID()
		wg.Go(func() {
			if err := fn(ctx, id); err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{"command": command, "thread_id": id}).Warn("thread request failed")
			}
		})
	}
	wg.Wait()
}

// Frames returns the cached frames of a thread, loading the initial stack if none are cached.
func (s *Session) Frames(ctx context.Context, threadID int) ([]StackFrame, error) {
	t, ok := s.threads.get(threadID)
	if !ok {
		return nil, fmt.Errorf("frames of thread %d: %w", threadID, ErrThreadNotFound)
	}
	if t.Stopped() && t.FrameCount() == 0 {
		if err := s.loadInitialFrames(ctx, t); err != nil {
			return nil, err
		}
	}
	return t.Frames(), nil
}

// LoadMoreFrames fetches up to levels further frames of a stopped thread (0 for the rest).
func (s *Session) LoadMoreFrames(ctx context.Context, threadID, levels int) ([]StackFrame, error) {
	t, ok := s.threads.get(threadID)
	if !ok {
		return nil, fmt.Errorf("frames of thread %d: %w", threadID, ErrThreadNotFound)
	}
	if total := t.TotalFrames(); total > 0 && t.FrameCount() >= total {
		return t.Frames(), nil
	}
	if err := s.fetchFrames(ctx, t, levels); err != nil {
		return nil, err
	}
	return t.Frames(), nil
}

// updateFrames loads the initial stack of the current thread if it has none.
func (s *Session) updateFrames(ctx context.Context) error {
	t := s.threads.currentThread()
	if t == nil || !t.Stopped() || t.FrameCount() > 0 {
		return nil
	}
	return s.loadInitialFrames(ctx, t)
}

// loadInitialFrames fetches the top frame first and then the next 19 when
// the adapter supports delayed loading, or the whole stack at once.
func (s *Session) loadInitialFrames(ctx context.Context, t *Thread) error {
	if !s.Capabilities().SupportsDelayedStackTraceLoading {
		return s.fetchFrames(ctx, t, 0)
	}
	if err := s.fetchFrames(ctx, t, 1); err != nil {
		return err
	}
	return s.fetchFrames(ctx, t, 19)
}

func (s *Session) fetchFrames(ctx context.Context, t *Thread, levels int) error {
	gen := t.generation()
	args := godap.StackTraceArguments{ThreadId: t.ID(), StartFrame: t.FrameCount(), Levels: levels}
	var body godap.StackTraceResponseBody
	if err := s.conn.Call(ctx, "stackTrace", args, &body); err != nil {
		return fmt.Errorf("stack trace of thread %d: %w: %w", t.ID(), ErrRefreshFailed, err)
	}
	frames := lo.Map(body.StackFrames, func(f godap.StackFrame, _ int) StackFrame {
		return newStackFrame(t.ID(), f)
	})
	t.appendFrames(gen, frames, body.TotalFrames)
	return nil
}

// Scopes returns the scopes of a cached frame.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]Scope, error) {
	owner := lo.FindOrElse(s.threads.list(), nil, func(t *Thread) bool { return t.hasFrame(frameID) })
	if owner != nil {
		if scopes, ok := owner.cachedScopes(frameID); ok {
			return scopes, nil
		}
	}

	var body godap.ScopesResponseBody
	if err := s.conn.Call(ctx, "scopes", godap.ScopesArguments{FrameId: frameID}, &body); err != nil {
		return nil, fmt.Errorf("scopes of frame %d: %w", frameID, err)
	}
	scopes := lo.Map(body.Scopes, func(sc godap.Scope, _ int) Scope { return newScope(sc) })
	if owner != nil {
		owner.cacheScopes(frameID, scopes)
	}
	return scopes, nil
}

// Variables returns the children of a variables reference.
func (s *Session) Variables(ctx context.Context, ref int) ([]Variable, error) {
	var body godap.VariablesResponseBody
	if err := s.conn.Call(ctx, "variables", godap.VariablesArguments{VariablesReference: ref}, &body); err != nil {
		return nil, fmt.Errorf("variables %d: %w", ref, err)
	}
	return lo.Map(body.Variables, func(v godap.Variable, _ int) Variable { return newVariable(v) }), nil
}

// Evaluate evaluates an expression in the context of a frame (0 for global scope).
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (Variable, error) {
	args := godap.EvaluateArguments{Expression: expression, FrameId: frameID, Context: evalContext}
	var body godap.EvaluateResponseBody
	if err := s.conn.Call(ctx, "evaluate", args, &body); err != nil {
		return Variable{}, fmt.Errorf("evaluate: %w", err)
	}
	return Variable{
		Name:               expression,
		Value:              body.Result,
		Type:               body.Type,
		VariablesReference: body.VariablesReference,
		NamedVariables:     body.NamedVariables,
		IndexedVariables:   body.IndexedVariables,
		EvaluateName:       expression,
	}, nil
}

// Completions asks the adapter for completions of text at column.
func (s *Session) Completions(ctx context.Context, text string, column, frameID int) ([]godap.CompletionItem, error) {
	if !s.Capabilities().SupportsCompletionsRequest {
		return nil, fmt.Errorf("completions: %w", ErrUnsupported)
	}
	args := godap.CompletionsArguments{Text: text, Column: column, FrameId: frameID}
	var body godap.CompletionsResponseBody
	if err := s.conn.Call(ctx, "completions", args, &body); err != nil {
		return nil, fmt.Errorf("completions: %w", err)
	}
	return body.Targets, nil
}

// UpdateBreakpoints resyncs the breakpoints of uri with the adapter, or of
// every known resource when uri is empty.
func (s *Session) UpdateBreakpoints(ctx context.Context, uri string, sourceModified bool) error {
	if s.conn.Disposed() {
		return fmt.Errorf("update breakpoints: %w", dap.ErrConnectionClosed)
	}
	var errs []error
	for _, u := range s.affectedURIs(uri) {
		if err := s.syncBreakpoints(ctx, u, sourceModified); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) affectedURIs(uri string) []string {
	if uri != "" {
		return []string{uri}
	}
	return lo.Uniq(append(s.store.URIs(), s.BreakpointURIs()...))
}

// syncBreakpoints sends the enabled, line-deduplicated breakpoints of uri and
// replaces the session's view of uri once the adapter acknowledged them.
func (s *Session) syncBreakpoints(ctx context.Context, uri string, sourceModified bool) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	declared := lo.Map(s.store.FindMarkers(uri), func(b SourceBreakpoint, _ int) Breakpoint {
		return Breakpoint{Origins: []SourceBreakpoint{b}}
	})
	deduped := Reconcile(declared)

	var sent []int
	for i, bp := range deduped {
		if bp.Enabled() {
			sent = append(sent, i)
		}
	}
	args := godap.SetBreakpointsArguments{
		Source: sourceForURI(uri),
		Breakpoints: lo.Map(sent, func(i int, _ int) godap.SourceBreakpoint {
			return deduped[i].toDAP()
		}),
		SourceModified: sourceModified,
	}

	var body godap.SetBreakpointsResponseBody
	if err := s.conn.Call(ctx, "setBreakpoints", args, &body); err != nil {
		return fmt.Errorf("set breakpoints %s: %w", uri, err)
	}
	for i, raw := range body.Breakpoints {
		if i >= len(sent) {
			break
		}
		deduped[sent[i]].Verification = newVerification(raw)
	}
	result := Reconcile(deduped)

	s.mu.Lock()
	if len(result) == 0 {
		delete(s.breakpoints, uri)
	} else {
		s.breakpoints[uri] = result
	}
	s.mu.Unlock()

	s.onDidChangeBreakpoints.Fire(uri)
	return nil
}

// sourceForURI maps a file:// URI or a plain path to a DAP source.
func sourceForURI(uri string) godap.Source {
	path := uri
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	return godap.Source{Name: filepath.Base(path), Path: path}
}

func (s *Session) onMarkersChanged(uri string) {
	s.mu.RLock()
	live := s.breakpointsLive
	s.mu.RUnlock()
	if !live || s.conn.Disposed() {
		return
	}
	go func() {
		ctx, cancel := s.requestContext()
		defer cancel()
		if err := s.syncBreakpoints(ctx, uri, true); err != nil {
			s.log.WithError(err).WithField("uri", uri).Warn("breakpoint resync failed")
		}
	}()
}

// updateThreads refreshes the thread list behind any refresh already in flight.
func (s *Session) updateThreads(ctx context.Context, details *StoppedDetails) error {
	done := make(chan struct{})
	s.refreshMu.Lock()
	prev := s.refreshTail
	s.refreshTail = done
	s.refreshMu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Later refreshes still queue behind prev.
			go func() {
				<-prev
				close(done)
			}()
			return fmt.Errorf("threads: %w: %w", ErrRefreshFailed, ctx.Err())
		}
	}
	defer close(done)

	var body godap.ThreadsResponseBody
	if err := s.conn.Call(ctx, "threads", nil, &body); err != nil {
		return fmt.Errorf("threads: %w: %w", ErrRefreshFailed, err)
	}
	if s.conn.Disposed() {
		return fmt.Errorf("threads: %w", dap.ErrConnectionClosed)
	}

	before := s.threads.currentThread()
	if err := s.threads.replace(body.Threads, details); err != nil {
		return err
	}
	if after := s.threads.currentThread(); after != before && after != nil {
		s.onDidChangeThread.Fire(after)
	}
	s.fireDidChange()
	return nil
}

func (s *Session) refreshAfterThreadStarted() {
	ctx, cancel := s.requestContext()
	defer cancel()
	if err := s.updateThreads(ctx, nil); err != nil {
		s.log.WithError(err).Warn("thread refresh failed")
	}
}

func (s *Session) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.requestTimeout)
}

func (s *Session) onInitialized(dap.Event) {
	ctx, cancel := s.requestContext()
	defer cancel()
	s.configure(ctx)
}

// configure pushes every known breakpoint, finishes the configuration phase,
// and loads the first thread list.
func (s *Session) configure(ctx context.Context) {
	s.mu.Lock()
	s.breakpointsLive = true
	s.mu.Unlock()

	for _, uri := range s.store.URIs() {
		if err := s.syncBreakpoints(ctx, uri, false); err != nil {
			s.log.WithError(err).WithField("uri", uri).Warn("initial breakpoint sync failed")
		}
	}
	if s.Capabilities().SupportsConfigurationDoneRequest {
		if _, err := s.conn.SendRequest(ctx, "configurationDone", nil); err != nil {
			s.log.WithError(err).Warn("configurationDone failed")
		}
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.fireDidChange()

	if err := s.updateThreads(ctx, nil); err != nil {
		s.log.WithError(err).Warn("thread refresh failed")
	}
}

func (s *Session) onStopped(evt dap.Event) {
	var body godap.StoppedEventBody
	if err := evt.Decode(&body); err != nil {
		s.log.WithError(err).Warn("malformed stopped event")
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	if err := s.updateThreads(ctx, stoppedDetailsFromBody(body)); err != nil {
		s.log.WithError(err).Warn("thread refresh failed")
		return
	}
	if err := s.updateFrames(ctx); err != nil {
		s.log.WithError(err).Warn("frame refresh failed")
	}
}

func (s *Session) onContinued(evt dap.Event) {
	threadID := int(gjson.GetBytes(evt.Body, "threadId").Int())
	s.applyContinued(threadID, gjson.GetBytes(evt.Body, "allThreadsContinued"))
}

// applyContinued clears every thread unless allThreadsContinued is explicitly false.
func (s *Session) applyContinued(threadID int, all gjson.Result) {
	if all.Exists() && all.Type == gjson.False {
		s.threads.clearOne(threadID)
	} else {
		s.threads.clearAll()
	}
	s.fireDidChange()
}

func (s *Session) onThread(evt dap.Event) {
	var body godap.ThreadEventBody
	if err := evt.Decode(&body); err != nil {
		s.log.WithError(err).Warn("malformed thread event")
		return
	}
	switch body.Reason {
	case "started":
		s.threadDebouncer.Call()
	case "exited":
		s.threads.clearOne(body.ThreadId)
		s.fireDidChange()
	}
}

func (s *Session) onCapabilities(evt dap.Event) {
	raw := gjson.GetBytes(evt.Body, "capabilities")
	if !raw.IsObject() {
		return
	}
	if err := s.mergeCapabilities(json.RawMessage(raw.Raw)); err != nil {
		s.log.WithError(err).Warn("malformed capabilities event")
		return
	}
	s.fireDidChange()
}

func (s *Session) onBreakpoint(evt dap.Event) {
	var body godap.BreakpointEventBody
	if err := evt.Decode(&body); err != nil {
		s.log.WithError(err).Warn("malformed breakpoint event")
		return
	}
	if body.Breakpoint.Id == 0 {
		return
	}

	var verification *Verification
	if body.Reason != "removed" {
		verification = newVerification(body.Breakpoint)
	}

	s.mu.Lock()
	var changed []string
	for uri, bps := range s.breakpoints {
		idx := lo.IndexOf(lo.Map(bps, func(b Breakpoint, _ int) int {
			if b.Verification == nil {
				return 0
			}
			return b.Verification.AdapterID
		}), body.Breakpoint.Id)
		if idx < 0 {
			continue
		}
		updated := lo.Map(bps, func(b Breakpoint, _ int) Breakpoint { return b.clone() })
		if verification != nil && verification.Line == 0 {
			verification.Line = bps[idx].Line()
		}
		updated[idx].Verification = verification
		s.breakpoints[uri] = Reconcile(updated)
		changed = append(changed, uri)
	}
	s.mu.Unlock()

	sort.Strings(changed)
	for _, uri := range changed {
		s.onDidChangeBreakpoints.Fire(uri)
	}
}

func (s *Session) onOutput(evt dap.Event) {
	var body godap.OutputEventBody
	if err := evt.Decode(&body); err != nil {
		return
	}
	s.log.WithField("category", body.Category).Debug(strings.TrimRight(body.Output, "\n"))
}

func (s *Session) onTerminated(evt dap.Event) {
	var event TerminatedEvent
	if restart := gjson.GetBytes(evt.Body, "restart"); restart.Exists() && restart.Type != gjson.Null && restart.Type != gjson.False {
		event.Restart = json.RawMessage(restart.Raw)
	}
	s.onDidTerminate.Fire(event)
}

func (s *Session) onExited(dap.Event) {
	s.fireExit()
}

func (s *Session) onConnectionClosed() {
	s.fireDidChange()
	s.fireExit()
}

func (s *Session) fireExit() {
	s.exitOnce.Do(func() {
		s.onDidExit.Fire(s)
	})
}

func (s *Session) fireDidChange() {
	s.onDidChange.Fire(s)
}

func (s *Session) runInTerminal(ctx context.Context, raw json.RawMessage) (any, error) {
	if s.terminal == nil {
		return nil, errors.New("no terminal available")
	}
	var args godap.RunInTerminalRequestArguments
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode runInTerminal arguments: %w", err)
	}

	env := make(map[string]string, len(args.Env))
	for k, v := range args.Env {
		if v == nil {
			continue
		}
		env[k] = fmt.Sprint(v)
	}
	pid, err := s.terminal.Spawn(ctx, TerminalRequest{
		Kind:  args.Kind,
		Title: args.Title,
		Cwd:   args.Cwd,
		Args:  args.Args,
		Env:   env,
	})
	if err != nil {
		return nil, fmt.Errorf("run in terminal: %w", err)
	}
	return godap.RunInTerminalResponseBody{ProcessId: pid}, nil
}

// Dispose closes the connection and releases the session's subscriptions.
func (s *Session) Dispose() {
	s.toDispose.Dispose()
	s.cancel()
	s.conn.Dispose()
	s.threads.reset()
}
