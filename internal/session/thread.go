package session

import "sync/atomic"

// StepMode is a traced thread's current stepping mode, set by IDE commands
// and consulted on every dispatched event.
type StepMode int32

const (
	// ModeRun is free execution.
	ModeRun StepMode = iota
	// ModeStepInto stops at the next event of any frame.
	ModeStepInto
	// ModeStepOver stops at the next event at or above the starting depth.
	ModeStepOver
	// ModeStepOut stops when control returns below the starting depth.
	ModeStepOut
	// ModeQuit unwinds the thread.
	ModeQuit
)

// String returns a readable name for the mode.
func (m StepMode) String() string {
	switch m {
	case ModeRun:
		return "run"
	case ModeStepInto:
		return "step-into"
	case ModeStepOver:
		return "step-over"
	case ModeStepOut:
		return "step-out"
	case ModeQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// ThreadRecord represents one traced execution thread.
//
// The stepping mode and step depth are guarded by the session lock. The
// quitting and tracing flags are atomics: quit broadcast is best-effort and
// must be observable by a thread that is mid-dispatch without taking the
// lock.
type ThreadRecord struct {
	// ID is the session-unique thread identifier.
	ID int64

	// Name is the display name reported to the IDE.
	Name string

	// Main marks the singleton main thread.
	Main bool

	// Target is the thread's entry function. Nil for the main thread when
	// tracing an already-running caller.
	Target func() error

	mode      atomic.Int32
	stepDepth atomic.Int64
	quitting  atomic.Bool
	tracing   atomic.Bool
}

// Mode returns the current stepping mode.
func (t *ThreadRecord) Mode() StepMode {
	return StepMode(t.mode.Load())
}

// SetMode updates the stepping mode. Callers hold the session lock; the
// atomic store only protects readers that check the mode without it.
func (t *ThreadRecord) SetMode(m StepMode) {
	t.mode.Store(int32(m))
}

// StepDepth returns the frame depth recorded when the current step command
// was issued.
func (t *ThreadRecord) StepDepth() int {
	return int(t.stepDepth.Load())
}

// SetStepDepth records the frame depth a step-over or step-out command
// measures against.
func (t *ThreadRecord) SetStepDepth(depth int) {
	t.stepDepth.Store(int64(depth))
}

// QuitRequested reports whether a quit has been requested for this thread.
func (t *ThreadRecord) QuitRequested() bool {
	return t.quitting.Load()
}

// RequestQuit flags the thread for teardown. Safe without the session lock.
func (t *ThreadRecord) RequestQuit() {
	t.quitting.Store(true)
	t.SetMode(ModeQuit)
}

// Tracing reports whether the thread's event hooks are enabled.
func (t *ThreadRecord) Tracing() bool {
	return t.tracing.Load()
}

// SetTracing enables or disables the thread's event hooks.
func (t *ThreadRecord) SetTracing(on bool) {
	t.tracing.Store(on)
}
