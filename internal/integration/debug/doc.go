// Package debug implements the session core of a Debug Adapter Protocol client.
//
// A Manager starts debug sessions from launch configurations. Each Session
// drives one adapter connection through initialize, launch or attach, and
// configuration, and keeps a queryable snapshot of the debuggee's threads,
// stack frames, and breakpoints.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                          Manager                             │
//	│  - session registry, per-name numbering, current session     │
//	│  - restart, destroy, lifecycle events                        │
//	└──────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌──────────────────────────────────────────────────────────────┐
//	│                          Session                             │
//	│  - adapter event handling, derived state                     │
//	│  - thread arena, lazily loaded frames and scopes             │
//	│  - breakpoint resync against a BreakpointStore               │
//	└──────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌──────────────────────────────────────────────────────────────┐
//	│                     dap.Connection                           │
//	│  - request/response correlation, event dispatch              │
//	└──────────────────────────────────────────────────────────────┘
//
// # Session States
//
// The state of a session is derived, never stored:
//
//   - Inactive: the connection is disposed
//   - Initializing: the adapter has not sent "initialized" yet
//   - Stopped: at least one thread is stopped
//   - Running: otherwise
//
// # Breakpoints
//
// User breakpoints live in a BreakpointStore. A session sends the enabled
// ones per resource with setBreakpoints and keeps its own reconciled view:
// breakpoints that end up on the same line are collapsed by Reconcile, so
// each line is represented once.
//
//	store := debug.NewMemoryStore()
//	store.AddLineBreakpoint("/src/main.go", 42)
//
//	mgr := debug.NewManager(debug.NewLocalService(), debug.WithStore(store))
//	session, err := mgr.Start(ctx, cfg)
//
// # Thread Safety
//
// Manager, Session, Thread, and MemoryStore are safe for concurrent use.
// Adapter events are handled on the connection's dispatcher goroutine, one at
// a time, in arrival order.
package debug
