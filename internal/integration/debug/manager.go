package debug

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	godap "github.com/google/go-dap"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/dshills/dapsession/internal/integration"
	"github.com/dshills/dapsession/internal/integration/debug/dap"
	"github.com/dshills/dapsession/internal/logging"
)

// Event types published on the manager's EventPublisher.
const (
	EventSessionCreated     = "debug.session.created"
	EventSessionStarted     = "debug.session.started"
	EventSessionDestroyed   = "debug.session.destroyed"
	EventSessionStopped     = "debug.session.stopped"
	EventSessionCurrent     = "debug.session.current"
	EventBreakpointsChanged = "debug.breakpoints.changed"
)

// ActiveSessionChange describes a change of the current session.
// Either side may be nil.
type ActiveSessionChange struct {
	Previous *Session
	Current  *Session
}

// BreakpointsChange reports that the breakpoints of URI changed. Session is
// nil when the change comes from switching the current session.
type BreakpointsChange struct {
	Session *Session
	URI     string
}

// Manager owns the set of debug sessions and tracks which one is current.
type Manager struct {
	service   DebugService
	store     BreakpointStore
	terminal  TerminalSpawner
	publisher integration.EventPublisher
	log       *logrus.Entry
	clock     clock.Clock

	threadDebounce time.Duration
	requestTimeout time.Duration
	factories      map[string]SessionFactory
	connOpts       []dap.Option

	// switchMu orders current session switches with their notifications.
	switchMu sync.Mutex

	mu               sync.RWMutex
	sessions         map[string]*Session
	order            []string
	current          *Session
	configurationIDs map[string]int
	lastState        map[string]State
	destroying       map[string]struct{}
	subscriptions    map[string]*integration.DisposableCollection

	onDidCreateSession       integration.Emitter[*Session]
	onDidStartSession        integration.Emitter[*Session]
	onDidDestroySession      integration.Emitter[*Session]
	onDidStopSession         integration.Emitter[*Session]
	onDidChangeActiveSession integration.Emitter[ActiveSessionChange]
	onDidChangeBreakpoints   integration.Emitter[BreakpointsChange]
	onDidChange              integration.Emitter[*Session]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets the breakpoint store shared by all sessions.
func WithStore(store BreakpointStore) ManagerOption {
	return func(m *Manager) {
		m.store = store
	}
}

// WithTerminal sets the spawner used for runInTerminal requests.
func WithTerminal(t TerminalSpawner) ManagerOption {
	return func(m *Manager) {
		m.terminal = t
	}
}

// WithPublisher sets the event publisher notified of session lifecycle changes.
func WithPublisher(p integration.EventPublisher) ManagerOption {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithClock sets the clock used by session timers.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithThreadDebounce sets the quiet period before refreshing threads after thread started events.
func WithThreadDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.threadDebounce = d
	}
}

// WithRequestTimeout bounds requests issued from event handlers.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.requestTimeout = d
	}
}

// WithSessionFactory registers the factory used for configurations of debugType.
func WithSessionFactory(debugType string, f SessionFactory) ManagerOption {
	return func(m *Manager) {
		m.factories[debugType] = f
	}
}

// WithConnectionOptions sets options applied to every new connection.
func WithConnectionOptions(opts ...dap.Option) ManagerOption {
	return func(m *Manager) {
		m.connOpts = append(m.connOpts, opts...)
	}
}

// NewManager creates a manager backed by service.
func NewManager(service DebugService, opts ...ManagerOption) *Manager {
	m := &Manager{
		service:          service,
		log:              logging.Discard(),
		clock:            clock.New(),
		threadDebounce:   DefaultThreadDebounce,
		requestTimeout:   DefaultRequestTimeout,
		factories:        make(map[string]SessionFactory),
		sessions:         make(map[string]*Session),
		configurationIDs: make(map[string]int),
		lastState:        make(map[string]State),
		destroying:       make(map[string]struct{}),
		subscriptions:    make(map[string]*integration.DisposableCollection),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	return m
}

// Store returns the breakpoint store shared by the sessions.
func (m *Manager) Store() BreakpointStore {
	return m.store
}

// OnDidCreateSession registers a listener for newly registered sessions.
func (m *Manager) OnDidCreateSession(listener func(*Session)) integration.Disposable {
	return m.onDidCreateSession.Subscribe(listener)
}

// OnDidStartSession registers a listener for sessions that launched or attached.
func (m *Manager) OnDidStartSession(listener func(*Session)) integration.Disposable {
	return m.onDidStartSession.Subscribe(listener)
}

// OnDidDestroySession registers a listener for removed sessions.
func (m *Manager) OnDidDestroySession(listener func(*Session)) integration.Disposable {
	return m.onDidDestroySession.Subscribe(listener)
}

// OnDidStopSession registers a listener for sessions entering the stopped state.
func (m *Manager) OnDidStopSession(listener func(*Session)) integration.Disposable {
	return m.onDidStopSession.Subscribe(listener)
}

// OnDidChangeActiveSession registers a listener for current session changes.
// Changes are delivered one at a time in the order they were applied. A
// listener must not switch the current session itself.
func (m *Manager) OnDidChangeActiveSession(listener func(ActiveSessionChange)) integration.Disposable {
	return m.onDidChangeActiveSession.Subscribe(listener)
}

// OnDidChangeBreakpoints registers a listener for breakpoint changes of the
// current session and for current session switches.
func (m *Manager) OnDidChangeBreakpoints(listener func(BreakpointsChange)) integration.Disposable {
	return m.onDidChangeBreakpoints.Subscribe(listener)
}

// OnDidChange registers a listener for state changes of any session.
func (m *Manager) OnDidChange(listener func(*Session)) integration.Disposable {
	return m.onDidChange.Subscribe(listener)
}

// Sessions returns the sessions in creation order.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Map(m.order, func(id string, _ int) *Session { return m.sessions[id] })
}

// Session returns the session with the given id.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// CurrentSession returns the current session, or nil.
func (m *Manager) CurrentSession() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetCurrentSession makes s current. A nil session selects the first session, if any.
func (m *Manager) SetCurrentSession(s *Session) {
	if s == nil {
		m.mu.RLock()
		if len(m.order) > 0 {
			s = m.sessions[m.order[0]]
		}
		m.mu.RUnlock()
	}
	m.setCurrent(s)
}

// Start resolves cfg, creates an adapter for it, and runs a new session
// through initialize and launch or attach.
//
// The session is registered and made current before the handshake. When the
// handshake fails the error wraps ErrLaunchFailed and the session is destroyed
// in the background.
func (m *Manager) Start(ctx context.Context, cfg Configuration) (*Session, error) {
	if !cfg.Resolved {
		resolved, err := m.service.Resolve(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", cfg.Name, err)
		}
		cfg = resolved
	}

	id, err := m.service.Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", cfg.Name, err)
	}
	transport, err := m.service.Open(ctx, id)
	if err != nil {
		if stopErr := m.service.Stop(ctx, id); stopErr != nil {
			m.log.WithError(stopErr).WithField("session_id", id).Warn("stop after failed open")
		}
		return nil, fmt.Errorf("open %q: %w", cfg.Name, err)
	}

	log := m.log.WithField("session_id", id)
	conn := dap.NewConnection(id, transport, append([]dap.Option{dap.WithLogger(log)}, m.connOpts...)...)

	factory := m.factories[cfg.Type]
	if factory == nil {
		factory = NewSession
	}
	s := factory(SessionParams{
		ID:             id,
		Options:        Options{Configuration: cfg, ID: m.nextConfigurationID(cfg.Name)},
		Connection:     conn,
		Store:          m.store,
		Terminal:       m.terminal,
		Logger:         log,
		Clock:          m.clock,
		ThreadDebounce: m.threadDebounce,
		RequestTimeout: m.requestTimeout,
	})

	m.register(s)
	m.onDidCreateSession.Fire(s)
	m.publish(EventSessionCreated, s)
	m.setCurrent(s)

	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	log.WithField("name", s.Label()).Info("debug session started")
	m.onDidStartSession.Fire(s)
	m.publish(EventSessionStarted, s)
	return s, nil
}

func (m *Manager) nextConfigurationID(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.configurationIDs[name]
	m.configurationIDs[name] = id + 1
	return id
}

// register adds s and subscribes to its events.
func (m *Manager) register(s *Session) {
	subs := &integration.DisposableCollection{}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.order = append(m.order, s.ID())
	m.lastState[s.ID()] = s.State()
	m.subscriptions[s.ID()] = subs
	m.mu.Unlock()

	subs.Push(
		s.OnDidChange(m.sessionChanged),
		s.OnDidChangeBreakpoints(func(uri string) {
			if m.CurrentSession() == s {
				m.fireBreakpointsChanged(s, uri)
			}
		}),
		s.OnDidTerminate(func(evt TerminatedEvent) {
			go m.handleTerminated(s, evt)
		}),
		s.OnDidExit(func(*Session) {
			go func() {
				if err := m.Destroy(context.Background(), s.ID()); err != nil && !errors.Is(err, ErrSessionNotFound) {
					m.log.WithError(err).WithField("session_id", s.ID()).Warn("destroy after exit failed")
				}
			}()
		}),
	)
}

func (m *Manager) sessionChanged(s *Session) {
	state := s.State()

	m.mu.Lock()
	_, known := m.sessions[s.ID()]
	prev := m.lastState[s.ID()]
	if known {
		m.lastState[s.ID()] = state
	}
	m.mu.Unlock()
	if !known {
		return
	}

	m.onDidChange.Fire(s)
	if state == StateStopped && prev != StateStopped {
		m.setCurrent(s)
		m.onDidStopSession.Fire(s)
		m.publish(EventSessionStopped, s)
	}
}

func (m *Manager) handleTerminated(s *Session, evt TerminatedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.requestTimeout)
	defer cancel()

	if evt.Restart != nil {
		if _, err := m.Restart(ctx, s); err != nil {
			m.log.WithError(err).WithField("session_id", s.ID()).Warn("restart after terminated failed")
		}
		return
	}
	if err := s.Disconnect(ctx, godap.DisconnectArguments{}); err != nil {
		m.log.WithError(err).WithField("session_id", s.ID()).Debug("disconnect after terminated failed")
	}
	if err := m.Destroy(ctx, s.ID()); err != nil && !errors.Is(err, ErrSessionNotFound) {
		m.log.WithError(err).WithField("session_id", s.ID()).Warn("destroy after terminated failed")
	}
}

// Destroy stops the adapter of a session, disposes the session, and removes it.
// When it was current, the first remaining active session becomes current.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if _, busy := m.destroying[id]; !ok || busy {
		m.mu.Unlock()
		return fmt.Errorf("destroy %s: %w", id, ErrSessionNotFound)
	}
	m.destroying[id] = struct{}{}
	subs := m.subscriptions[id]
	m.mu.Unlock()

	stopErr := m.service.Stop(ctx, id)
	subs.Dispose()
	s.Dispose()

	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.lastState, id)
	delete(m.subscriptions, id)
	delete(m.destroying, id)
	m.order = lo.Without(m.order, id)
	wasCurrent := m.current == s
	var next *Session
	if wasCurrent {
		remaining := lo.Map(m.order, func(id string, _ int) *Session { return m.sessions[id] })
		next = lo.FindOrElse(remaining, nil, func(r *Session) bool { return r.State() != StateInactive })
		if next == nil && len(remaining) > 0 {
			next = remaining[0]
		}
	}
	m.mu.Unlock()

	m.log.WithField("session_id", id).Info("debug session destroyed")
	m.onDidDestroySession.Fire(s)
	m.publish(EventSessionDestroyed, s)
	if wasCurrent {
		m.setCurrent(next)
	}

	if stopErr != nil {
		return fmt.Errorf("stop %s: %w", id, stopErr)
	}
	return nil
}

// DestroyAll destroys every session.
func (m *Manager) DestroyAll(ctx context.Context) error {
	var err error
	for _, s := range m.Sessions() {
		if derr := m.Destroy(ctx, s.ID()); derr != nil && !errors.Is(derr, ErrSessionNotFound) {
			err = multierr.Append(err, derr)
		}
	}
	return err
}

// Close destroys every session and drops all manager listeners.
func (m *Manager) Close(ctx context.Context) error {
	err := m.DestroyAll(ctx)
	m.onDidCreateSession.Dispose()
	m.onDidStartSession.Dispose()
	m.onDidDestroySession.Dispose()
	m.onDidStopSession.Dispose()
	m.onDidChangeActiveSession.Dispose()
	m.onDidChangeBreakpoints.Dispose()
	m.onDidChange.Dispose()
	return err
}

// Restart restarts s, or the current session when s is nil.
//
// Adapters that support restart are asked to restart in place and s is
// returned. Otherwise s is disconnected and destroyed, and its resolved
// configuration is started again as a new session. With no session to
// restart, Restart returns nil and no error.
func (m *Manager) Restart(ctx context.Context, s *Session) (*Session, error) {
	if s == nil {
		s = m.CurrentSession()
	}
	if s == nil {
		return nil, nil
	}

	native, err := s.Restart(ctx)
	if native {
		return s, err
	}

	if err := s.Disconnect(ctx, godap.DisconnectArguments{Restart: true}); err != nil {
		m.log.WithError(err).WithField("session_id", s.ID()).Debug("disconnect before restart failed")
	}
	if err := m.Destroy(ctx, s.ID()); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	return m.Start(ctx, s.Configuration())
}

// setCurrent switches the current session and replays breakpoint changes for
// every uri known to the previous or the new session.
func (m *Manager) setCurrent(s *Session) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	m.mu.Lock()
	prev := m.current
	if prev == s {
		m.mu.Unlock()
		return
	}
	m.current = s
	m.mu.Unlock()

	m.onDidChangeActiveSession.Fire(ActiveSessionChange{Previous: prev, Current: s})
	m.publish(EventSessionCurrent, s)

	var uris []string
	if prev != nil {
		uris = append(uris, prev.BreakpointURIs()...)
	}
	if s != nil {
		uris = append(uris, s.BreakpointURIs()...)
	}
	uris = lo.Uniq(uris)
	sort.Strings(uris)
	for _, uri := range uris {
		m.fireBreakpointsChanged(nil, uri)
	}
}

func (m *Manager) fireBreakpointsChanged(s *Session, uri string) {
	m.onDidChangeBreakpoints.Fire(BreakpointsChange{Session: s, URI: uri})
	if m.publisher != nil {
		m.publisher.Publish(EventBreakpointsChanged, map[string]any{"uri": uri})
	}
}

func (m *Manager) publish(eventType string, s *Session) {
	if m.publisher == nil {
		return
	}
	data := map[string]any{}
	if s != nil {
		data["session_id"] = s.ID()
		data["name"] = s.Label()
		data["type"] = s.Configuration().Type
		data["state"] = s.State().String()
	}
	m.publisher.Publish(eventType, data)
}
