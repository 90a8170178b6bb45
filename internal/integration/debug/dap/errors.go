package dap

import (
	"errors"
	"fmt"
	"regexp"

	godap "github.com/google/go-dap"
)

var (
	// ErrConnectionClosed is returned for requests on a disposed connection
	// and for requests still in flight when the connection is disposed.
	ErrConnectionClosed = errors.New("debug adapter connection closed")

	// ErrAdapterRequestFailed matches every *AdapterError.
	ErrAdapterRequestFailed = errors.New("debug adapter request failed")
)

// AdapterError is returned when the adapter answers a request with success=false.
type AdapterError struct {
	// Command is the request command that failed.
	Command string

	// Message is the short error from the response.
	Message string

	// Body is the structured error from the response body, when present.
	Body *godap.ErrorMessage
}

var formatVariable = regexp.MustCompile(`\{([^}]+)\}`)

// Error renders the structured error format when available.
func (e *AdapterError) Error() string {
	detail := e.Message
	if e.Body != nil && e.Body.Format != "" {
		detail = formatVariable.ReplaceAllStringFunc(e.Body.Format, func(m string) string {
			if v, ok := e.Body.Variables[m[1:len(m)-1]]; ok {
				return v
			}
			return m
		})
	}
	if detail == "" {
		return fmt.Sprintf("%s failed", e.Command)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, detail)
}

// Is reports whether target is ErrAdapterRequestFailed.
func (e *AdapterError) Is(target error) bool {
	return target == ErrAdapterRequestFailed
}
