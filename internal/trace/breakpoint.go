package trace

import "fmt"

// Breakpoint is one line breakpoint. Line is 1-based.
type Breakpoint struct {
	File string
	Line int

	// Condition is an optional expression; the breakpoint fires only when
	// the session's condition evaluator reports true for it.
	Condition string

	// Temporary breakpoints are removed after their first hit.
	Temporary bool

	// IgnoreCount skips that many hits before firing.
	IgnoreCount int

	// Enabled gates the breakpoint without removing it.
	Enabled bool

	hits int
}

// Hits returns how many times execution has reached this breakpoint,
// including ignored hits.
func (b *Breakpoint) Hits() int {
	return b.hits
}

// ConditionFunc evaluates a breakpoint condition in the context of the
// stopped thread. An error counts as true so a broken condition pauses
// rather than silently running past the breakpoint.
type ConditionFunc func(condition string) (bool, error)

// Breakpoints is the session's breakpoint table, keyed by file and line.
//
// The table is shared debugger state guarded by the session lock; callers
// mutate and query it only while holding the lock. It carries no lock of
// its own.
type Breakpoints struct {
	table map[string]*Breakpoint
}

// NewBreakpoints creates an empty table.
func NewBreakpoints() *Breakpoints {
	return &Breakpoints{table: make(map[string]*Breakpoint)}
}

func bpKey(file string, line int) string {
	return fmt.Sprintf("%s:%d", file, line)
}

// Set installs or replaces a breakpoint.
func (b *Breakpoints) Set(bp Breakpoint) {
	bp.Enabled = true
	b.table[bpKey(bp.File, bp.Line)] = &bp
}

// Clear removes the breakpoint at file:line. Clearing an absent breakpoint
// is a no-op.
func (b *Breakpoints) Clear(file string, line int) {
	delete(b.table, bpKey(file, line))
}

// Get returns the breakpoint at file:line, or nil.
func (b *Breakpoints) Get(file string, line int) *Breakpoint {
	return b.table[bpKey(file, line)]
}

// Len returns the number of installed breakpoints.
func (b *Breakpoints) Len() int {
	return len(b.table)
}

// Hit reports whether execution at file:line fires a breakpoint, applying
// enablement, ignore counts, conditions, and temporary removal. eval may be
// nil, in which case conditions count as true.
func (b *Breakpoints) Hit(file string, line int, eval ConditionFunc) bool {
	bp, ok := b.table[bpKey(file, line)]
	if !ok || !bp.Enabled {
		return false
	}

	bp.hits++

	if bp.Condition != "" && eval != nil {
		fire, err := eval(bp.Condition)
		if err == nil && !fire {
			return false
		}
	}

	if bp.IgnoreCount > 0 {
		bp.IgnoreCount--
		return false
	}

	if bp.Temporary {
		delete(b.table, bpKey(file, line))
	}
	return true
}
