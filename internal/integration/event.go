package integration

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// EventPublisher receives the lifecycle events of the debug manager:
// debug.session.created, debug.session.started, debug.session.stopped,
// debug.session.current and debug.session.destroyed.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(eventType string, data map[string]any)
}

// EventBus provides a thread-safe publish-subscribe event system keyed by
// dot-notation topics.
//
// The event bus supports:
//   - Multiple subscribers per event type
//   - Wildcard subscriptions (e.g., "debug.*" matches "debug.session.created")
//   - Delivery in subscription order
type EventBus struct {
	mu sync.RWMutex

	// Subscribers by event type (exact match)
	subscribers map[string]map[string]*subscription

	// Wildcard subscribers (pattern -> subscriptions)
	wildcards map[string]map[string]*subscription

	// All subscriptions by ID for fast lookup
	byID map[string]*subscription

	nextID atomic.Uint64
	closed atomic.Bool
}

// subscription holds a subscription's metadata.
type subscription struct {
	id        string
	seq       uint64
	eventType string
	isPattern bool
	handler   func(data map[string]any)
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string]map[string]*subscription),
		wildcards:   make(map[string]map[string]*subscription),
		byID:        make(map[string]*subscription),
	}
}

// Subscribe adds an event handler for the given event type.
//
// The event type can be an exact name or a wildcard pattern ending with ".*".
// Returns a subscription ID that can be used to unsubscribe, or "" when the
// bus is closed.
func (b *EventBus) Subscribe(eventType string, handler func(data map[string]any)) string {
	if b.closed.Load() {
		return ""
	}

	seq := b.nextID.Add(1)
	sub := &subscription{
		id:        strconv.FormatUint(seq, 10),
		seq:       seq,
		eventType: eventType,
		isPattern: isWildcard(eventType),
		handler:   handler,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.byID[sub.id] = sub

	target := b.subscribers
	if sub.isPattern {
		target = b.wildcards
	}
	if target[eventType] == nil {
		target[eventType] = make(map[string]*subscription)
	}
	target[eventType][sub.id] = sub

	return sub.id
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription existed.
func (b *EventBus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.byID[id]
	if !exists {
		return false
	}
	delete(b.byID, id)

	target := b.subscribers
	if sub.isPattern {
		target = b.wildcards
	}
	if subs, ok := target[sub.eventType]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(target, sub.eventType)
		}
	}
	return true
}

// Publish delivers an event synchronously to all matching subscribers.
func (b *EventBus) Publish(eventType string, data map[string]any) {
	if b.closed.Load() {
		return
	}
	for _, handler := range b.matchingHandlers(eventType) {
		callListener(handler, data)
	}
}

// Close shuts down the event bus.
// After closing, Subscribe and Publish calls are no-ops.
func (b *EventBus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	b.subscribers = make(map[string]map[string]*subscription)
	b.wildcards = make(map[string]map[string]*subscription)
	b.byID = make(map[string]*subscription)
	b.mu.Unlock()
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *EventBus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// matchingHandlers returns the handlers matching eventType in subscription order.
func (b *EventBus) matchingHandlers(eventType string) []func(data map[string]any) {
	b.mu.RLock()
	var subs []*subscription
	for _, sub := range b.subscribers[eventType] {
		subs = append(subs, sub)
	}
	for pattern, patternSubs := range b.wildcards {
		if !matchPattern(pattern, eventType) {
			continue
		}
		for _, sub := range patternSubs {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })

	handlers := make([]func(data map[string]any), len(subs))
	for i, sub := range subs {
		handlers[i] = sub.handler
	}
	return handlers
}

// isWildcard checks if the event type is a wildcard pattern.
func isWildcard(eventType string) bool {
	return len(eventType) >= 2 && eventType[len(eventType)-2:] == ".*"
}

// matchPattern checks if an event type matches a wildcard pattern.
func matchPattern(pattern, eventType string) bool {
	if !isWildcard(pattern) {
		return pattern == eventType
	}

	prefix := pattern[:len(pattern)-2]
	if len(eventType) <= len(prefix) {
		return false
	}
	return eventType[:len(prefix)] == prefix && eventType[len(prefix)] == '.'
}
