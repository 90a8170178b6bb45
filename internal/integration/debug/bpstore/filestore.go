package bpstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"gopkg.in/yaml.v3"

	"github.com/dshills/dapsession/internal/integration"
	"github.com/dshills/dapsession/internal/integration/debug"
)

// FileVersion is written to every saved breakpoint file.
const FileVersion = "1"

// ErrWatching is returned by Watch when the store is already watching.
var ErrWatching = errors.New("breakpoint file already watched")

type fileContent struct {
	Version     string                   `yaml:"version"`
	Breakpoints []debug.SourceBreakpoint `yaml:"breakpoints"`
}

// FileStore is a debug.BreakpointStore backed by a YAML file.
type FileStore struct {
	*debug.MemoryStore

	path        string
	log         *logrus.Entry
	clock       clock.Clock
	reloadDelay time.Duration

	mu          sync.Mutex
	lastWritten []byte

	watcher  *fsnotify.Watcher
	reload   *integration.Debouncer
	done     chan struct{}
	watchers conc.WaitGroup
}

var _ debug.BreakpointStore = (*FileStore)(nil)

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the store logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *FileStore) {
		s.log = log
	}
}

// WithReloadDelay sets how long file events are coalesced before reloading.
func WithReloadDelay(d time.Duration) Option {
	return func(s *FileStore) {
		s.reloadDelay = d
	}
}

// WithClock sets the clock driving the reload delay.
func WithClock(c clock.Clock) Option {
	return func(s *FileStore) {
		s.clock = c
	}
}

// Open creates a store for path and loads it. A missing file yields an
// empty store; it is created on the first Save.
func Open(path string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		MemoryStore: debug.NewMemoryStore(),
		path:        path,
		log:         logrus.NewEntry(logrus.StandardLogger()),
		clock:       clock.New(),
		reloadDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("breakpoints_file", path)

	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load replaces the store content with the file content.
func (s *FileStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.MemoryStore.Replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read breakpoints file: %w", err)
	}

	s.mu.Lock()
	own := s.lastWritten != nil && bytes.Equal(data, s.lastWritten)
	s.mu.Unlock()
	if own {
		return nil
	}

	bps, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	s.MemoryStore.Replace(bps)
	s.log.WithField("count", len(bps)).Debug("breakpoints loaded")
	return nil
}

// Save writes every breakpoint to the file, replacing it atomically.
func (s *FileStore) Save() error {
	data, err := Marshal(s.All())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create breakpoints directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".breakpoints-*")
	if err != nil {
		return fmt.Errorf("save breakpoints: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save breakpoints: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save breakpoints: %w", err)
	}

	s.mu.Lock()
	s.lastWritten = data
	s.mu.Unlock()

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("save breakpoints: %w", err)
	}
	return nil
}

// Watch reloads the store whenever the file is written, replaced or
// removed. The parent directory is watched so editors that save by rename
// are seen.
func (s *FileStore) Watch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		return ErrWatching
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create breakpoints directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch breakpoints file: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch breakpoints file: %w", err)
	}

	s.watcher = w
	s.done = make(chan struct{})
	s.reload = integration.NewDebouncer(s.reloadDelay, func() {
		if err := s.Load(); err != nil {
			s.log.WithError(err).Warn("reload breakpoints failed")
		}
	}, integration.WithClock(s.clock))

	s.watchers.Go(func() { s.watchLoop(w, s.reload, s.done) })
	return nil
}

func (s *FileStore) watchLoop(w *fsnotify.Watcher, reload *integration.Debouncer, done <-chan struct{}) {
	target := filepath.Clean(s.path)
	for {
		select {
		case <-done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				reload.Call()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.WithError(err).Warn("breakpoints watcher error")
		}
	}
}

// Close stops watching. The in-memory breakpoints stay available.
func (s *FileStore) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	if w != nil {
		close(s.done)
		s.reload.Dispose()
	}
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	s.watchers.Wait()
	return err
}

// Parse decodes a breakpoint file.
func Parse(data []byte) ([]debug.SourceBreakpoint, error) {
	var content fileContent
	if err := yaml.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parse breakpoints: %w", err)
	}
	for i, bp := range content.Breakpoints {
		if bp.URI == "" {
			return nil, fmt.Errorf("breakpoint %d: uri is required", i)
		}
		if bp.Line < 1 {
			return nil, fmt.Errorf("breakpoint %d: line must be positive", i)
		}
	}
	return content.Breakpoints, nil
}

// Marshal encodes breakpoints in the file format.
func Marshal(bps []debug.SourceBreakpoint) ([]byte, error) {
	if bps == nil {
		bps = []debug.SourceBreakpoint{}
	}
	data, err := yaml.Marshal(fileContent{Version: FileVersion, Breakpoints: bps})
	if err != nil {
		return nil, fmt.Errorf("encode breakpoints: %w", err)
	}
	return data, nil
}
