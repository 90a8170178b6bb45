package debug

import "errors"

var (
	// ErrLaunchFailed is returned when initialize, launch, or attach is rejected.
	ErrLaunchFailed = errors.New("debug session launch failed")

	// ErrRefreshFailed is returned when a thread or frame refresh fails.
	// The model keeps its last snapshot.
	ErrRefreshFailed = errors.New("debug refresh failed")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("debug session not found")

	// ErrUnsupported is returned when the adapter lacks the capability for a request.
	ErrUnsupported = errors.New("not supported by debug adapter")

	// ErrThreadNotFound is returned for thread ids not in the current thread list.
	ErrThreadNotFound = errors.New("thread not found")
)
