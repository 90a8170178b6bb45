// Package integration holds the plumbing shared by the debug session core
// and the helpers around it.
//
//   - Emitter and Disposable: typed listeners that are removed by disposing
//     the value returned from Subscribe.
//   - EventBus: dot-topic publish/subscribe with ".*" wildcards. It implements
//     EventPublisher, which the debug manager publishes lifecycle events to:
//     debug.session.created, debug.session.started, debug.session.stopped,
//     debug.session.current, debug.session.destroyed.
//   - Debouncer: coalesces bursts of calls, driven by an injectable clock.
//   - RetryConfig: bounded retries with backoff, used to dial adapters.
//
// Subpackages:
//
//   - debug: sessions, the session manager, breakpoints and launch configurations
//   - process: supervision of programs started for debug adapters
//   - terminal: runInTerminal support on top of process
package integration
