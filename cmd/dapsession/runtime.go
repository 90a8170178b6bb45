package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/dapsession/internal/config"
	"github.com/dshills/dapsession/internal/integration"
	"github.com/dshills/dapsession/internal/integration/debug"
	"github.com/dshills/dapsession/internal/integration/debug/adapters"
	"github.com/dshills/dapsession/internal/integration/debug/bpstore"
	"github.com/dshills/dapsession/internal/integration/debug/dap"
	"github.com/dshills/dapsession/internal/integration/process"
	"github.com/dshills/dapsession/internal/integration/terminal"
	"github.com/dshills/dapsession/internal/logging"
)

// idleGrace is how long run waits after the last session ended before it
// returns, so a restart that recreates the session is not mistaken for the end.
var idleGrace = time.Second

// runtime wires the debug manager to its collaborators.
type runtime struct {
	cfg       *config.Config
	log       *logrus.Entry
	logCloser io.Closer

	bus     *integration.EventBus
	store   *bpstore.FileStore
	spawner *terminal.Spawner
	tracer  *sdktrace.TracerProvider
	manager *debug.Manager

	subs integration.DisposableCollection
}

func newRuntime(cfg *config.Config, out io.Writer) (rt *runtime, err error) {
	logger, logCloser, err := logging.Open(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	rt = &runtime{
		cfg:       cfg,
		log:       logrus.NewEntry(logger),
		logCloser: logCloser,
		bus:       integration.NewEventBus(),
	}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	rt.store, err = bpstore.Open(cfg.ResolvePath(cfg.BreakpointsFile), bpstore.WithLogger(rt.log))
	if err != nil {
		return rt, err
	}
	if cfg.Debug.WatchBreakpoints {
		if err = rt.store.Watch(); err != nil {
			return rt, err
		}
	}

	sup := process.NewSupervisor(process.WithLogger(rt.log))
	rt.spawner = terminal.NewSpawner(sup,
		terminal.WithOutput(out),
		terminal.WithSize(cfg.Terminal.Rows, cfg.Terminal.Cols),
		terminal.WithLogger(rt.log),
	)

	workspace := cfg.ResolvePath(cfg.WorkspaceFolder)
	service := debug.NewLocalService(
		debug.WithVariables(debug.DefaultVariables(workspace)),
		debug.WithDialRetry(integration.RetryConfig{
			MaxAttempts:       cfg.Debug.DialAttempts,
			InitialDelay:      cfg.Debug.DialDelay,
			MaxDelay:          5 * time.Second,
			BackoffMultiplier: 2,
		}),
		debug.WithServiceLogger(rt.log),
	)

	opts := []debug.ManagerOption{
		debug.WithStore(rt.store),
		debug.WithTerminal(rt.spawner),
		debug.WithPublisher(rt.bus),
		debug.WithLogger(rt.log),
		debug.WithThreadDebounce(cfg.Debug.ThreadDebounce),
		debug.WithRequestTimeout(cfg.Debug.RequestTimeout),
	}
	if cfg.Trace.Enabled {
		rt.tracer = logging.NewTracerProvider(rt.log)
		opts = append(opts, debug.WithConnectionOptions(dap.WithTracer(rt.tracer.Tracer("dapsession"))))
	}
	opts = append(opts, adapters.NewRegistry().ManagerOptions()...)
	rt.manager = debug.NewManager(service, opts...)

	rt.bus.Subscribe("debug.*", func(data map[string]any) {
		rt.log.WithFields(logrus.Fields(data)).Debug("debug event")
	})
	rt.subs.Push(rt.manager.OnDidStopSession(rt.reportStop))
	return rt, nil
}

// Run starts launch and blocks until ctx is done or no session is left.
func (rt *runtime) Run(ctx context.Context, launch debug.Configuration) error {
	idle := make(chan struct{})
	var once sync.Once
	check := integration.NewDebouncer(idleGrace, func() {
		if len(rt.manager.Sessions()) == 0 {
			once.Do(func() { close(idle) })
		}
	})
	defer check.Dispose()
	rt.subs.Push(rt.manager.OnDidDestroySession(func(*debug.Session) { check.Call() }))

	s, err := rt.manager.Start(ctx, launch)
	if err != nil {
		return fmt.Errorf("start %q: %w", launch.Name, err)
	}
	rt.log.WithField("session", s.Label()).Info("waiting for the session to end")

	select {
	case <-ctx.Done():
		rt.log.Info("interrupted, stopping sessions")
	case <-idle:
	}
	return nil
}

func (rt *runtime) reportStop(s *debug.Session) {
	t := s.CurrentThread()
	if t == nil {
		return
	}
	fields := logrus.Fields{"session": s.Label(), "thread": t.Name()}
	if details, ok := t.StoppedDetails(); ok {
		fields["reason"] = details.Reason
	}
	if frame, ok := t.TopFrame(); ok {
		fields["frame"] = frame.Name
		fields["line"] = frame.Line
		if frame.Source != nil {
			fields["source"] = frame.Source.Path
		}
	}
	rt.log.WithFields(fields).Info("session stopped")
}

// Close shuts every component down and reports all failures.
func (rt *runtime) Close() error {
	var err error
	rt.subs.Dispose()

	timeout := rt.cfg.Terminal.ShutdownTimeout
	if rt.manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Debug.RequestTimeout)
		err = multierr.Append(err, rt.manager.Close(ctx))
		cancel()
	}
	if rt.spawner != nil {
		rt.spawner.Close(timeout)
	}
	if rt.store != nil {
		err = multierr.Append(err, rt.store.Close())
	}
	if rt.tracer != nil {
		err = multierr.Append(err, rt.tracer.Shutdown(context.Background()))
	}
	rt.bus.Close()
	if rt.logCloser != nil {
		err = multierr.Append(err, rt.logCloser.Close())
	}
	return err
}
