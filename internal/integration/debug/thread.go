package debug

import (
	"fmt"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/dshills/dapsession/internal/integration"
)

// StoppedDetails describes why a thread stopped.
type StoppedDetails struct {
	Reason            string
	Description       string
	Text              string
	ThreadID          int
	PreserveFocusHint bool
	AllThreadsStopped bool
	HitBreakpointIDs  []int
}

func stoppedDetailsFromBody(body godap.StoppedEventBody) *StoppedDetails {
	return &StoppedDetails{
		Reason:            body.Reason,
		Description:       body.Description,
		Text:              body.Text,
		ThreadID:          body.ThreadId,
		PreserveFocusHint: body.PreserveFocusHint,
		AllThreadsStopped: body.AllThreadsStopped,
		HitBreakpointIDs:  append([]int(nil), body.HitBreakpointIds...),
	}
}

// Thread is a stable handle to one adapter thread.
//
// A handle keeps its identity across thread list refreshes for as long as the
// adapter keeps reporting its id; only its contents are overwritten. Listeners
// registered with OnDidChange therefore survive refreshes.
type Thread struct {
	id int

	mu          sync.RWMutex
	name        string
	details     *StoppedDetails
	frames      []StackFrame
	totalFrames int
	scopes      map[int][]Scope
	gen         uint64 // bumped whenever cached frames are discarded

	onDidChange integration.Emitter[*Thread]
}

func newThread(id int) *Thread {
	return &Thread{id: id}
}

// ID returns the adapter-assigned thread id.
func (t *Thread) ID() int {
	return t.id
}

// Name returns the thread name from the latest thread list.
func (t *Thread) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// Stopped reports whether the thread carries stop details.
func (t *Thread) Stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.details != nil
}

// StoppedDetails returns a copy of the stop details, if the thread is stopped.
func (t *Thread) StoppedDetails() (StoppedDetails, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.details == nil {
		return StoppedDetails{}, false
	}
	d := *t.details
	d.HitBreakpointIDs = append([]int(nil), d.HitBreakpointIDs...)
	return d, true
}

// Frames returns the cached stack frames, top of stack first.
func (t *Thread) Frames() []StackFrame {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]StackFrame(nil), t.frames...)
}

// TopFrame returns the top cached frame.
func (t *Thread) TopFrame() (StackFrame, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.frames) == 0 {
		return StackFrame{}, false
	}
	return t.frames[0], true
}

// FrameCount returns the number of cached frames.
func (t *Thread) FrameCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.frames)
}

// TotalFrames returns the total stack depth last reported by the adapter, or 0 if unknown.
func (t *Thread) TotalFrames() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalFrames
}

// OnDidChange registers a listener fired whenever the thread contents change.
func (t *Thread) OnDidChange(listener func(*Thread)) integration.Disposable {
	return t.onDidChange.Subscribe(listener)
}

// String renders the thread for logs.
func (t *Thread) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state := "running"
	if t.details != nil {
		state = "stopped: " + t.details.Reason
	}
	return fmt.Sprintf("Thread #%d %s (%s)", t.id, t.name, state)
}

// update overwrites the name and, when details is non-nil, the stop state.
// A stop state change discards cached frames and scopes.
func (t *Thread) update(name string, details *StoppedDetails) {
	t.mu.Lock()
	t.name = name
	if details != nil {
		t.details = details
		t.clearFramesLocked()
	}
	t.mu.Unlock()
	t.onDidChange.Fire(t)
}

// clear marks the thread as running and discards cached frames and scopes.
func (t *Thread) clear() {
	t.mu.Lock()
	t.details = nil
	t.clearFramesLocked()
	t.mu.Unlock()
	t.onDidChange.Fire(t)
}

func (t *Thread) clearFramesLocked() {
	t.gen++
	t.frames = nil
	t.totalFrames = 0
	t.scopes = nil
}

func (t *Thread) generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gen
}

// appendFrames adds fetched frames unless the cache was discarded since gen was read.
func (t *Thread) appendFrames(gen uint64, frames []StackFrame, total int) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.frames = append(t.frames, frames...)
	t.totalFrames = total
	t.mu.Unlock()
	t.onDidChange.Fire(t)
}

func (t *Thread) hasFrame(frameID int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, f := range t.frames {
		if f.ID == frameID {
			return true
		}
	}
	return false
}

func (t *Thread) cachedScopes(frameID int) ([]Scope, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	scopes, ok := t.scopes[frameID]
	return scopes, ok
}

func (t *Thread) cacheScopes(frameID int, scopes []Scope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasFrameLocked(frameID) {
		return
	}
	if t.scopes == nil {
		t.scopes = make(map[int][]Scope)
	}
	t.scopes[frameID] = scopes
}

func (t *Thread) hasFrameLocked(frameID int) bool {
	for _, f := range t.frames {
		if f.ID == frameID {
			return true
		}
	}
	return false
}

// threadArena maps thread ids to stable handles.
type threadArena struct {
	mu      sync.RWMutex
	slots   map[int]*Thread
	order   []int
	current *Thread
	closed  bool
}

func newThreadArena() *threadArena {
	return &threadArena{slots: make(map[int]*Thread)}
}

// replace rebuilds the arena from a full thread list.
//
// Handles are reused by id; ids no longer listed are dropped. Stop details
// go to the thread named by details, and to every other thread as a generic
// pause when all threads stopped. Threads not covered by details keep their
// previous stop state. Duplicate ids fail with ErrRefreshFailed and leave the
// arena untouched.
func (a *threadArena) replace(raw []godap.Thread, details *StoppedDetails) error {
	seen := make(map[int]struct{}, len(raw))
	for _, r := range raw {
		if _, dup := seen[r.Id]; dup {
			return fmt.Errorf("duplicate thread id %d in thread list: %w", r.Id, ErrRefreshFailed)
		}
		seen[r.Id] = struct{}{}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("thread list closed: %w", ErrRefreshFailed)
	}
	slots := make(map[int]*Thread, len(raw))
	order := make([]int, 0, len(raw))
	for _, r := range raw {
		t, ok := a.slots[r.Id]
		if !ok {
			t = newThread(r.Id)
		}
		slots[r.Id] = t
		order = append(order, r.Id)
	}
	a.slots = slots
	a.order = order

	var currentID int
	hasCurrent := false
	if a.current != nil {
		currentID, hasCurrent = a.current.id, true
	}
	if details != nil && !details.PreserveFocusHint && details.ThreadID != 0 {
		currentID, hasCurrent = details.ThreadID, true
	}
	a.current = nil
	if hasCurrent {
		a.current = slots[currentID]
	}
	if a.current == nil && len(order) > 0 {
		a.current = slots[order[0]]
	}
	a.mu.Unlock()

	for _, r := range raw {
		slots[r.Id].update(r.Name, detailsFor(r.Id, details))
	}
	return nil
}

func detailsFor(id int, details *StoppedDetails) *StoppedDetails {
	if details == nil {
		return nil
	}
	if details.ThreadID == id {
		d := *details
		return &d
	}
	if details.AllThreadsStopped {
		return &StoppedDetails{
			Reason:            details.Reason,
			Description:       details.Description,
			ThreadID:          id,
			AllThreadsStopped: true,
		}
	}
	return nil
}

func (a *threadArena) get(id int) (*Thread, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.slots[id]
	return t, ok
}

func (a *threadArena) list() []*Thread {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Thread, len(a.order))
	for i, id := range a.order {
		out[i] = a.slots[id]
	}
	return out
}

func (a *threadArena) anyStopped() bool {
	for _, t := range a.list() {
		if t.Stopped() {
			return true
		}
	}
	return false
}

func (a *threadArena) currentThread() *Thread {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

func (a *threadArena) setCurrent(id int) (*Thread, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.slots[id]
	if !ok {
		return nil, false
	}
	changed := a.current != t
	a.current = t
	return t, changed
}

func (a *threadArena) clearAll() {
	for _, t := range a.list() {
		t.clear()
	}
}

func (a *threadArena) clearOne(id int) {
	if t, ok := a.get(id); ok {
		t.clear()
	}
}

// reset drops every thread. Later replaces fail.
func (a *threadArena) reset() {
	a.mu.Lock()
	a.slots = make(map[int]*Thread)
	a.order = nil
	a.current = nil
	a.closed = true
	a.mu.Unlock()
}
