package debug

import (
	"fmt"

	godap "github.com/google/go-dap"
)

// ScopeType represents the type of a variable scope.
type ScopeType string

const (
	// ScopeLocals represents local variables.
	ScopeLocals ScopeType = "locals"
	// ScopeArguments represents function arguments.
	ScopeArguments ScopeType = "arguments"
	// ScopeGlobals represents global variables.
	ScopeGlobals ScopeType = "globals"
	// ScopeRegisters represents CPU registers.
	ScopeRegisters ScopeType = "registers"
)

// Scope is a named container of variables in a stack frame.
type Scope struct {
	// Name is the scope name.
	Name string

	// Type is derived from the adapter's presentation hint.
	Type ScopeType

	// VariablesReference is the reference to retrieve variables.
	VariablesReference int

	NamedVariables   int
	IndexedVariables int

	// Expensive indicates if fetching variables is expensive.
	Expensive bool
}

func newScope(s godap.Scope) Scope {
	return Scope{
		Name:               s.Name,
		Type:               mapScopeType(s.PresentationHint),
		VariablesReference: s.VariablesReference,
		NamedVariables:     s.NamedVariables,
		IndexedVariables:   s.IndexedVariables,
		Expensive:          s.Expensive,
	}
}

// mapScopeType maps a DAP presentation hint to a scope type.
func mapScopeType(hint string) ScopeType {
	switch hint {
	case "locals":
		return ScopeLocals
	case "arguments":
		return ScopeArguments
	case "globals":
		return ScopeGlobals
	case "registers":
		return ScopeRegisters
	default:
		return ScopeLocals
	}
}

// Variable is a variable or expression result.
type Variable struct {
	Name  string
	Value string
	Type  string

	// VariablesReference is the reference for child variables.
	VariablesReference int

	NamedVariables   int
	IndexedVariables int

	// EvaluateName is the expression to evaluate this variable.
	EvaluateName string
}

func newVariable(v godap.Variable) Variable {
	return Variable{
		Name:               v.Name,
		Value:              v.Value,
		Type:               v.Type,
		VariablesReference: v.VariablesReference,
		NamedVariables:     v.NamedVariables,
		IndexedVariables:   v.IndexedVariables,
		EvaluateName:       v.EvaluateName,
	}
}

// HasChildren returns true if this variable has child variables.
func (v Variable) HasChildren() bool {
	return v.VariablesReference > 0
}

// String formats the variable as "name (type) = value".
func (v Variable) String() string {
	if v.Type != "" {
		return fmt.Sprintf("%s (%s) = %s", v.Name, v.Type, v.Value)
	}
	return fmt.Sprintf("%s = %s", v.Name, v.Value)
}
