package integration

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Disposable releases a subscription or resource.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to the Disposable interface.
type DisposeFunc func()

// Dispose calls f.
func (f DisposeFunc) Dispose() {
	if f != nil {
		f()
	}
}

// DisposableCollection disposes a group of disposables together.
// The zero value is ready to use.
type DisposableCollection struct {
	mu    sync.Mutex
	items []Disposable
}

// Push adds disposables to the collection.
func (c *DisposableCollection) Push(items ...Disposable) {
	c.mu.Lock()
	c.items = append(c.items, items...)
	c.mu.Unlock()
}

// Dispose disposes every item in reverse order of addition and empties the collection.
func (c *DisposableCollection) Dispose() {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i].Dispose()
	}
}

// Emitter is a typed publish/subscribe primitive.
//
// Listeners are invoked synchronously on the firing goroutine in registration
// order. A panicking listener is recovered and logged so the remaining
// listeners still run. The zero value is ready to use.
type Emitter[T any] struct {
	mu        sync.RWMutex
	listeners []*emitterListener[T]
	nextID    uint64
	disposed  bool
}

type emitterListener[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a handle that removes it.
func (e *Emitter[T]) Subscribe(fn func(T)) Disposable {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return DisposeFunc(nil)
	}

	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, &emitterListener[T]{id: id, fn: fn})

	var once sync.Once
	return DisposeFunc(func() {
		once.Do(func() { e.remove(id) })
	})
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Fire delivers v to every listener registered at the time of the call.
func (e *Emitter[T]) Fire(v T) {
	e.mu.RLock()
	listeners := make([]*emitterListener[T], len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, l := range listeners {
		callListener(l.fn, v)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Dispose removes all listeners; later subscriptions are ignored.
func (e *Emitter[T]) Dispose() {
	e.mu.Lock()
	e.listeners = nil
	e.disposed = true
	e.mu.Unlock()
}

func callListener[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("event listener panicked")
		}
	}()
	fn(v)
}
