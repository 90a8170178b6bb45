package debug

import (
	"sort"

	godap "github.com/google/go-dap"
	"github.com/samber/lo"
)

// Verification is the adapter's acknowledgement of one sent breakpoint.
type Verification struct {
	// AdapterID identifies the breakpoint in later "breakpoint" events (0 if none).
	AdapterID int

	Verified bool

	// Line and Column are the adapter-adjusted position, 0 when not reported.
	Line   int
	Column int

	Message string
}

func newVerification(bp godap.Breakpoint) *Verification {
	return &Verification{
		AdapterID: bp.Id,
		Verified:  bp.Verified,
		Line:      bp.Line,
		Column:    bp.Column,
		Message:   bp.Message,
	}
}

// Breakpoint is a session's reconciled view of one line.
//
// Origins lists every declared breakpoint that collapsed onto the line, the
// primary first. Verification is nil until the adapter acknowledged it, and
// stays nil for disabled breakpoints.
type Breakpoint struct {
	Origins      []SourceBreakpoint
	Verification *Verification
}

// Origin returns the primary declared breakpoint.
func (b Breakpoint) Origin() SourceBreakpoint {
	if len(b.Origins) == 0 {
		return SourceBreakpoint{}
	}
	return b.Origins[0]
}

// URI returns the resource of the breakpoint.
func (b Breakpoint) URI() string {
	return b.Origin().URI
}

// Enabled reports whether any breakpoint collapsed onto the line is enabled.
func (b Breakpoint) Enabled() bool {
	return lo.SomeBy(b.Origins, func(o SourceBreakpoint) bool { return o.Enabled })
}

// Verified reports whether the adapter verified the breakpoint.
func (b Breakpoint) Verified() bool {
	return b.Verification != nil && b.Verification.Verified
}

// Line returns the effective line: the adapter's line when it reported one, else the requested line.
func (b Breakpoint) Line() int {
	if b.Verification != nil && b.Verification.Line > 0 {
		return b.Verification.Line
	}
	return b.Origin().Line
}

// Column returns the effective column.
func (b Breakpoint) Column() int {
	if b.Verification != nil && b.Verification.Column > 0 {
		return b.Verification.Column
	}
	return b.Origin().Column
}

// Message returns the adapter message, if any.
func (b Breakpoint) Message() string {
	if b.Verification == nil {
		return ""
	}
	return b.Verification.Message
}

// Unshifted reports whether the adapter acknowledged the breakpoint at the
// position it was requested at. An unspecified requested column matches any column.
func (b Breakpoint) Unshifted() bool {
	v := b.Verification
	if v == nil || v.Line == 0 {
		return false
	}
	origin := b.Origin()
	if v.Line != origin.Line {
		return false
	}
	return origin.Column == 0 || v.Column == 0 || v.Column == origin.Column
}

func (b Breakpoint) clone() Breakpoint {
	out := Breakpoint{Origins: append([]SourceBreakpoint(nil), b.Origins...)}
	if b.Verification != nil {
		v := *b.Verification
		out.Verification = &v
	}
	return out
}

// toDAP renders the first enabled origin as a setBreakpoints entry.
func (b Breakpoint) toDAP() godap.SourceBreakpoint {
	origin, ok := lo.Find(b.Origins, func(o SourceBreakpoint) bool { return o.Enabled })
	if !ok {
		origin = b.Origin()
	}
	return godap.SourceBreakpoint{
		Line:         origin.Line,
		Column:       origin.Column,
		Condition:    origin.Condition,
		HitCondition: origin.HitCondition,
		LogMessage:   origin.LogMessage,
	}
}

// Reconcile collapses breakpoints that share an effective line into one.
//
// When two breakpoints collide, the one the adapter left at its requested
// position becomes primary. If neither or both stayed put, the first-declared
// (lowest store ID) wins. The loser's origins are appended to the primary's.
// The result does not depend on input order and is sorted by line.
func Reconcile(bps []Breakpoint) []Breakpoint {
	sorted := lo.Map(bps, func(b Breakpoint, _ int) Breakpoint { return b.clone() })
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Origin(), sorted[j].Origin()
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})

	result := make([]Breakpoint, 0, len(sorted))
	byLine := make(map[int]int, len(sorted))
	for _, bp := range sorted {
		line := bp.Line()
		i, collides := byLine[line]
		if !collides {
			byLine[line] = len(result)
			result = append(result, bp)
			continue
		}

		primary := result[i]
		if !primary.Unshifted() && bp.Unshifted() {
			primary, bp = bp, primary
		}
		primary.Origins = append(primary.Origins, bp.Origins...)
		result[i] = primary
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Line() < result[j].Line()
	})
	return result
}
