package debug

import (
	"testing"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
)

func TestStackFrame_Source(t *testing.T) {
	tests := []struct {
		name     string
		frame    StackFrame
		has      bool
		path     string
		location string
	}{
		{"nil source", StackFrame{Line: 3}, false, "", "<unknown>:3"},
		{"empty path", StackFrame{Source: &godap.Source{Name: "x.go"}, Line: 4}, false, "", "x.go:4"},
		{"valid", StackFrame{Source: &godap.Source{Name: "main.go", Path: "/src/main.go"}, Line: 42}, true, "/src/main.go", "main.go:42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.has, tt.frame.HasSource())
			assert.Equal(t, tt.path, tt.frame.SourcePath())
			assert.Equal(t, tt.location, tt.frame.FormatLocation())
		})
	}
	assert.Empty(t, StackFrame{}.SourceName())
}

func TestNewStackFrame(t *testing.T) {
	f := newStackFrame(7, godap.StackFrame{
		Id: 1000, Name: "main.main", Line: 12, Column: 2,
		Source:           &godap.Source{Name: "main.go", Path: "/src/main.go"},
		PresentationHint: "subtle",
	})
	assert.Equal(t, 1000, f.ID)
	assert.Equal(t, 7, f.ThreadID)
	assert.Equal(t, "main.go", f.SourceName())
	assert.Equal(t, "subtle", f.PresentationHint)
}

func TestScopeType(t *testing.T) {
	for hint, want := range map[string]ScopeType{
		"locals":    ScopeLocals,
		"arguments": ScopeArguments,
		"globals":   ScopeGlobals,
		"registers": ScopeRegisters,
		"":          ScopeLocals,
		"weird":     ScopeLocals,
	} {
		assert.Equal(t, want, mapScopeType(hint), hint)
	}

	s := newScope(godap.Scope{Name: "Args", PresentationHint: "arguments", VariablesReference: 9, Expensive: true})
	assert.Equal(t, ScopeArguments, s.Type)
	assert.Equal(t, 9, s.VariablesReference)
	assert.True(t, s.Expensive)
}
