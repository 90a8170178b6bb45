package debug

import (
	"fmt"
	"strings"

	godap "github.com/google/go-dap"
)

// StackFrame is one entry in a stopped thread's call stack.
type StackFrame struct {
	// ID is the adapter frame id, valid until the thread resumes.
	ID int

	// ThreadID is the thread owning the frame.
	ThreadID int

	// Name is the function name.
	Name string

	// Source is the source file information.
	Source *godap.Source

	Line      int
	Column    int
	EndLine   int
	EndColumn int

	// CanRestart indicates if execution can be restarted from this frame.
	CanRestart bool

	InstructionPointerReference string

	// PresentationHint is "normal", "label" or "subtle".
	PresentationHint string
}

func newStackFrame(threadID int, f godap.StackFrame) StackFrame {
	return StackFrame{
		ID:                          f.Id,
		ThreadID:                    threadID,
		Name:                        f.Name,
		Source:                      f.Source,
		Line:                        f.Line,
		Column:                      f.Column,
		EndLine:                     f.EndLine,
		EndColumn:                   f.EndColumn,
		CanRestart:                  f.CanRestart,
		InstructionPointerReference: f.InstructionPointerReference,
		PresentationHint:            f.PresentationHint,
	}
}

// HasSource returns true if the frame has source information.
func (f StackFrame) HasSource() bool {
	return f.Source != nil && f.Source.Path != ""
}

// SourcePath returns the source file path, or empty string if unavailable.
func (f StackFrame) SourcePath() string {
	if f.Source == nil {
		return ""
	}
	return f.Source.Path
}

// SourceName returns the source file name, or empty string if unavailable.
func (f StackFrame) SourceName() string {
	if f.Source == nil {
		return ""
	}
	return f.Source.Name
}

// FormatLocation returns a formatted location string like "file.go:42".
func (f StackFrame) FormatLocation() string {
	if f.Source == nil || f.Source.Name == "" {
		return fmt.Sprintf("<unknown>:%d", f.Line)
	}
	return fmt.Sprintf("%s:%d", f.Source.Name, f.Line)
}

// FormatStackTrace renders the cached frames of a thread, one per line.
func FormatStackTrace(t *Thread) string {
	frames := t.Frames()
	total := t.TotalFrames()

	var b strings.Builder
	for i, frame := range frames {
		marker := "  "
		if i == 0 {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s#%d %s at %s\n", marker, i, frame.Name, frame.FormatLocation())
	}
	if total > len(frames) {
		fmt.Fprintf(&b, "  ... (%d more frames)\n", total-len(frames))
	}
	return b.String()
}
