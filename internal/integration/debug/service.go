package debug

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dshills/dapsession/internal/integration"
	"github.com/dshills/dapsession/internal/integration/debug/dap"
	"github.com/dshills/dapsession/internal/logging"
)

// DebugService is the remote side that owns adapter instances.
type DebugService interface {
	// Resolve substitutes variables in a configuration.
	Resolve(ctx context.Context, cfg Configuration) (Configuration, error)

	// Create registers a resolved configuration and returns a new session id.
	Create(ctx context.Context, cfg Configuration) (string, error)

	// Open connects to the adapter of a created session.
	Open(ctx context.Context, sessionID string) (dap.Transport, error)

	// Stop releases the adapter of a session.
	Stop(ctx context.Context, sessionID string) error
}

// LocalService connects to adapters that are already running, reachable via
// the configuration's debugServer or debugServerURL.
type LocalService struct {
	vars  Variables
	retry integration.RetryConfig
	log   *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*localSession
}

type localSession struct {
	cfg       Configuration
	transport dap.Transport
}

// LocalServiceOption configures a LocalService.
type LocalServiceOption func(*LocalService)

// WithVariables sets the variables substituted by Resolve.
func WithVariables(vars Variables) LocalServiceOption {
	return func(s *LocalService) {
		s.vars = vars
	}
}

// WithDialRetry sets the retry policy used when connecting to an adapter.
func WithDialRetry(cfg integration.RetryConfig) LocalServiceOption {
	return func(s *LocalService) {
		s.retry = cfg
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(log *logrus.Entry) LocalServiceOption {
	return func(s *LocalService) {
		s.log = log
	}
}

// NewLocalService creates a LocalService.
func NewLocalService(opts ...LocalServiceOption) *LocalService {
	s := &LocalService{
		vars:     DefaultVariables(""),
		retry:    integration.DefaultRetryConfig(),
		log:      logging.Discard(),
		sessions: make(map[string]*localSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve substitutes variables once; resolved configurations pass through.
func (s *LocalService) Resolve(_ context.Context, cfg Configuration) (Configuration, error) {
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return s.vars.Resolve(cfg), nil
}

// Create allocates a session id for cfg.
func (s *LocalService) Create(_ context.Context, cfg Configuration) (string, error) {
	if cfg.DebugServer == "" && cfg.DebugServerURL == "" {
		return "", fmt.Errorf("configuration %q: debugServer or debugServerURL is required", cfg.Name)
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = &localSession{cfg: cfg}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"session_id": id, "name": cfg.Name}).Debug("debug session created")
	return id, nil
}

// Open dials the adapter, retrying while it is still coming up.
func (s *LocalService) Open(ctx context.Context, sessionID string) (dap.Transport, error) {
	s.mu.Lock()
	ls, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("open %s: %w", sessionID, ErrSessionNotFound)
	}

	transport, err := integration.Retry(ctx, s.retry, func() (dap.Transport, error) {
		if ls.cfg.DebugServerURL != "" {
			ws, err := dap.NewWebSocketTransport(ls.cfg.DebugServerURL)
			if err != nil {
				return nil, err
			}
			return ws, nil
		}
		st, err := dap.NewSocketTransport(ls.cfg.DebugServer)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", sessionID, err)
	}

	s.mu.Lock()
	ls.transport = transport
	s.mu.Unlock()
	return transport, nil
}

// Stop closes the transport of a session and forgets it. Unknown ids are ignored.
func (s *LocalService) Stop(_ context.Context, sessionID string) error {
	s.mu.Lock()
	ls, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok || ls.transport == nil {
		return nil
	}
	// The connection closes the same transport on dispose; a second close error is expected.
	_ = ls.transport.Close()
	return nil
}
