package debug

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/dshills/dapsession/internal/integration"
)

// BreakpointType represents the kind of a source breakpoint.
type BreakpointType int

const (
	// BreakpointTypeLine is a standard line breakpoint.
	BreakpointTypeLine BreakpointType = iota
	// BreakpointTypeConditional is a breakpoint with a condition.
	BreakpointTypeConditional
	// BreakpointTypeLogPoint is a log point (prints message without stopping).
	BreakpointTypeLogPoint
)

// String returns a string representation of the breakpoint type.
func (t BreakpointType) String() string {
	switch t {
	case BreakpointTypeLine:
		return "line"
	case BreakpointTypeConditional:
		return "conditional"
	case BreakpointTypeLogPoint:
		return "logpoint"
	default:
		return "unknown"
	}
}

// SourceBreakpoint is a user-declared breakpoint as held by a BreakpointStore.
type SourceBreakpoint struct {
	// ID is assigned by the store in declaration order.
	ID int `json:"id" yaml:"id"`

	// URI identifies the resource.
	URI string `json:"uri" yaml:"uri"`

	// Line is the line number (1-based).
	Line int `json:"line" yaml:"line"`

	// Column is the column number (1-based, 0 when unspecified).
	Column int `json:"column,omitempty" yaml:"column,omitempty"`

	Enabled bool `json:"enabled" yaml:"enabled"`

	Condition    string `json:"condition,omitempty" yaml:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty" yaml:"hitCondition,omitempty"`
	LogMessage   string `json:"logMessage,omitempty" yaml:"logMessage,omitempty"`
}

// Type classifies the breakpoint.
func (b SourceBreakpoint) Type() BreakpointType {
	switch {
	case b.LogMessage != "":
		return BreakpointTypeLogPoint
	case b.Condition != "":
		return BreakpointTypeConditional
	default:
		return BreakpointTypeLine
	}
}

// BreakpointStore holds user-declared breakpoints per resource.
// Sessions treat it as read-only input and resync on change notifications.
type BreakpointStore interface {
	// FindMarkers returns the breakpoints of uri, or of every resource when uri is empty.
	FindMarkers(uri string) []SourceBreakpoint

	// GetBreakpoint returns the breakpoint declared at uri:line.
	GetBreakpoint(uri string, line int) (SourceBreakpoint, bool)

	// OnDidChangeMarkers registers a listener called with the uri whose breakpoints changed.
	OnDidChangeMarkers(listener func(uri string)) integration.Disposable

	// URIs returns every resource with at least one breakpoint.
	URIs() []string
}

// MemoryStore is an in-memory BreakpointStore.
type MemoryStore struct {
	mu          sync.RWMutex
	breakpoints map[int]*SourceBreakpoint
	byURI       map[string][]*SourceBreakpoint
	nextID      int

	onDidChange integration.Emitter[string]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		breakpoints: make(map[int]*SourceBreakpoint),
		byURI:       make(map[string][]*SourceBreakpoint),
		nextID:      1,
	}
}

// Add stores a copy of bp with a newly allocated ID and returns it.
func (m *MemoryStore) Add(bp SourceBreakpoint) SourceBreakpoint {
	m.mu.Lock()
	bp.ID = m.nextID
	m.nextID++
	stored := bp
	m.breakpoints[stored.ID] = &stored
	m.byURI[stored.URI] = append(m.byURI[stored.URI], &stored)
	m.mu.Unlock()

	m.onDidChange.Fire(bp.URI)
	return bp
}

// AddLineBreakpoint adds an enabled line breakpoint.
func (m *MemoryStore) AddLineBreakpoint(uri string, line int) SourceBreakpoint {
	return m.Add(SourceBreakpoint{URI: uri, Line: line, Enabled: true})
}

// AddConditionalBreakpoint adds an enabled conditional breakpoint.
func (m *MemoryStore) AddConditionalBreakpoint(uri string, line int, condition string) SourceBreakpoint {
	return m.Add(SourceBreakpoint{URI: uri, Line: line, Condition: condition, Enabled: true})
}

// AddLogPoint adds an enabled log point.
func (m *MemoryStore) AddLogPoint(uri string, line int, logMessage string) SourceBreakpoint {
	return m.Add(SourceBreakpoint{URI: uri, Line: line, LogMessage: logMessage, Enabled: true})
}

// Remove removes a breakpoint by ID.
func (m *MemoryStore) Remove(id int) error {
	m.mu.Lock()
	bp, ok := m.breakpoints[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("breakpoint %d not found", id)
	}
	delete(m.breakpoints, id)
	m.removeFromURI(bp.URI, id)
	m.mu.Unlock()

	m.onDidChange.Fire(bp.URI)
	return nil
}

func (m *MemoryStore) removeFromURI(uri string, id int) {
	m.byURI[uri] = lo.Reject(m.byURI[uri], func(bp *SourceBreakpoint, _ int) bool {
		return bp.ID == id
	})
	if len(m.byURI[uri]) == 0 {
		delete(m.byURI, uri)
	}
}

// SetEnabled enables or disables a breakpoint.
func (m *MemoryStore) SetEnabled(id int, enabled bool) error {
	return m.modify(id, func(bp *SourceBreakpoint) { bp.Enabled = enabled })
}

// SetCondition sets the condition for a breakpoint.
func (m *MemoryStore) SetCondition(id int, condition string) error {
	return m.modify(id, func(bp *SourceBreakpoint) { bp.Condition = condition })
}

// SetHitCondition sets the hit condition for a breakpoint.
func (m *MemoryStore) SetHitCondition(id int, hitCondition string) error {
	return m.modify(id, func(bp *SourceBreakpoint) { bp.HitCondition = hitCondition })
}

// SetLogMessage sets the log message for a breakpoint.
func (m *MemoryStore) SetLogMessage(id int, logMessage string) error {
	return m.modify(id, func(bp *SourceBreakpoint) { bp.LogMessage = logMessage })
}

func (m *MemoryStore) modify(id int, fn func(*SourceBreakpoint)) error {
	m.mu.Lock()
	bp, ok := m.breakpoints[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("breakpoint %d not found", id)
	}
	fn(bp)
	uri := bp.URI
	m.mu.Unlock()

	m.onDidChange.Fire(uri)
	return nil
}

// Toggle removes the breakpoints at uri:line, or adds a line breakpoint if there are none.
// It reports whether a breakpoint was added.
func (m *MemoryStore) Toggle(uri string, line int) (SourceBreakpoint, bool) {
	m.mu.Lock()
	var removed *SourceBreakpoint
	for _, bp := range m.byURI[uri] {
		if bp.Line == line {
			removed = bp
			delete(m.breakpoints, bp.ID)
		}
	}
	if removed != nil {
		m.byURI[uri] = lo.Reject(m.byURI[uri], func(bp *SourceBreakpoint, _ int) bool {
			return bp.Line == line
		})
		if len(m.byURI[uri]) == 0 {
			delete(m.byURI, uri)
		}
		m.mu.Unlock()
		m.onDidChange.Fire(uri)
		return *removed, false
	}
	m.mu.Unlock()

	return m.AddLineBreakpoint(uri, line), true
}

// ClearURI removes every breakpoint of uri.
func (m *MemoryStore) ClearURI(uri string) {
	m.mu.Lock()
	for _, bp := range m.byURI[uri] {
		delete(m.breakpoints, bp.ID)
	}
	_, had := m.byURI[uri]
	delete(m.byURI, uri)
	m.mu.Unlock()

	if had {
		m.onDidChange.Fire(uri)
	}
}

// Replace swaps the whole content of the store and notifies every uri that
// was present before or after. IDs are kept when non-zero.
func (m *MemoryStore) Replace(bps []SourceBreakpoint) {
	m.mu.Lock()
	touched := lo.Keys(m.byURI)

	m.breakpoints = make(map[int]*SourceBreakpoint, len(bps))
	m.byURI = make(map[string][]*SourceBreakpoint)
	maxID := 0
	for _, bp := range bps {
		if bp.ID > maxID {
			maxID = bp.ID
		}
	}
	if maxID >= m.nextID {
		m.nextID = maxID + 1
	}
	for _, bp := range bps {
		stored := bp
		if stored.ID == 0 || m.breakpoints[stored.ID] != nil {
			stored.ID = m.nextID
			m.nextID++
		}
		m.breakpoints[stored.ID] = &stored
		m.byURI[stored.URI] = append(m.byURI[stored.URI], &stored)
	}
	touched = lo.Uniq(append(touched, lo.Keys(m.byURI)...))
	m.mu.Unlock()

	sort.Strings(touched)
	for _, uri := range touched {
		m.onDidChange.Fire(uri)
	}
}

// All returns every breakpoint ordered by ID.
func (m *MemoryStore) All() []SourceBreakpoint {
	return m.FindMarkers("")
}

// FindMarkers returns the breakpoints of uri (all when empty) ordered by ID.
func (m *MemoryStore) FindMarkers(uri string) []SourceBreakpoint {
	m.mu.RLock()
	var out []SourceBreakpoint
	if uri == "" {
		out = make([]SourceBreakpoint, 0, len(m.breakpoints))
		for _, bp := range m.breakpoints {
			out = append(out, *bp)
		}
	} else {
		out = make([]SourceBreakpoint, 0, len(m.byURI[uri]))
		for _, bp := range m.byURI[uri] {
			out = append(out, *bp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetBreakpoint returns the first-declared breakpoint at uri:line.
func (m *MemoryStore) GetBreakpoint(uri string, line int) (SourceBreakpoint, bool) {
	for _, bp := range m.FindMarkers(uri) {
		if bp.Line == line {
			return bp, true
		}
	}
	return SourceBreakpoint{}, false
}

// OnDidChangeMarkers registers a listener for per-uri changes.
func (m *MemoryStore) OnDidChangeMarkers(listener func(uri string)) integration.Disposable {
	return m.onDidChange.Subscribe(listener)
}

// URIs returns every resource with at least one breakpoint, sorted.
func (m *MemoryStore) URIs() []string {
	m.mu.RLock()
	uris := lo.Keys(m.byURI)
	m.mu.RUnlock()

	sort.Strings(uris)
	return uris
}
