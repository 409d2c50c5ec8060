package trace

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/tracewire/internal/protocol"
	"github.com/dshills/tracewire/internal/session"
)

// State is a traced thread's position in the dispatch state machine.
type State int

const (
	// StateRunning is free execution.
	StateRunning State = iota
	// StateStepping reports the next event of the relevant kind.
	StateStepping
	// StateStopped is blocked at the debugger awaiting an IDE command.
	StateStopped
	// StateQuitting is tear-down in progress.
	StateQuitting
)

// String returns a readable name for the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStepping:
		return "stepping"
	case StateStopped:
		return "stopped"
	case StateQuitting:
		return "quitting"
	default:
		return "unknown"
	}
}

// Config configures a thread dispatcher.
type Config struct {
	// Eval evaluates breakpoint conditions for this thread. Nil treats
	// every condition as true.
	Eval ConditionFunc

	// Logger receives dispatch logs. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Dispatcher is the per-thread trace dispatch state machine. One exists per
// traced thread; the instrumentation layer feeds it every event of that
// thread.
type Dispatcher struct {
	sess   *session.Session
	rec    *session.ThreadRecord
	breaks *Breakpoints
	eval   ConditionFunc
	log    *zap.Logger

	// state is only written by the owning thread inside Dispatch.
	state State
}

// NewDispatcher creates the dispatcher for one traced thread. The
// breakpoint table is shared across the session's dispatchers and accessed
// only under the session lock.
func NewDispatcher(s *session.Session, rec *session.ThreadRecord, breaks *Breakpoints, cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sess:   s,
		rec:    rec,
		breaks: breaks,
		eval:   cfg.Eval,
		log:    logger,
		state:  StateRunning,
	}
}

// State returns the thread's dispatch state. Meaningful to the owning
// thread and to tests observing a stopped thread.
func (d *Dispatcher) State() State {
	return d.state
}

// Dispatch processes one traced event and returns the instruction for the
// instrumentation layer.
//
// A quit flag raised by another thread is honored immediately, before any
// lock acquisition, and disables this thread's hooks rather than waiting
// for a natural event boundary. Otherwise the session lock is held for the
// whole decision, any reporting, and, if the thread stops, the wait for the
// next IDE command.
func (d *Dispatcher) Dispatch(ev Event) Status {
	if !d.rec.Tracing() {
		return StatusDisable
	}
	if d.rec.QuitRequested() || d.sess.QuitRequested() {
		d.rec.SetTracing(false)
		d.state = StateQuitting
		return StatusQuit
	}

	lock := d.sess.Lock()
	lock.Acquire(d.rec.ID)
	defer lock.Release(d.rec.ID)

	// Re-check under the lock: a broadcast may have landed while we
	// waited behind a stopped thread.
	if d.rec.QuitRequested() {
		d.rec.SetTracing(false)
		d.state = StateQuitting
		return StatusQuit
	}

	if ev.Kind == EventException && ev.Err != nil {
		exc := protocol.Exception{
			Type:    fmt.Sprintf("%T", ev.Err),
			Message: ev.Err.Error(),
		}
		if err := d.sess.EmitException(exc); err != nil {
			return d.disconnect()
		}
		return d.stop(ev, "exception")
	}

	reason, stop := d.shouldStop(ev)
	if !stop {
		return StatusContinue
	}
	return d.stop(ev, reason)
}

// shouldStop applies the stepping mode and breakpoint table to one event.
// Callers hold the session lock.
func (d *Dispatcher) shouldStop(ev Event) (string, bool) {
	// Breakpoints fire regardless of stepping mode.
	if ev.Kind == EventLine && d.breaks.Hit(ev.File, ev.Line, d.eval) {
		return "breakpoint", true
	}

	switch d.rec.Mode() {
	case session.ModeStepInto:
		if ev.Kind == EventLine || ev.Kind == EventCall {
			return "step", true
		}
	case session.ModeStepOver:
		// Complete when control is back at or above the issuing depth.
		if ev.Kind == EventLine && ev.Depth <= d.rec.StepDepth() {
			return "step", true
		}
	case session.ModeStepOut:
		// Complete when control returns below the issuing depth.
		if ev.Depth < d.rec.StepDepth() && (ev.Kind == EventLine || ev.Kind == EventReturn) {
			return "step", true
		}
	}
	return "", false
}

// stop reports the pause to the IDE and blocks until a command resumes,
// retargets, or quits the thread. The session lock remains held throughout;
// the thread is the designated current thread for its duration.
func (d *Dispatcher) stop(ev Event, reason string) Status {
	d.state = StateStopped
	d.sess.SetCurrent(d.rec.ID)

	// Take the command funnel before announcing the stop: once the IDE
	// sees the stop event, its next command belongs to this thread.
	cmds := d.sess.TakeCommands(d.rec.ID)

	stopped := protocol.ThreadStopped{
		ThreadID: d.rec.ID,
		File:     ev.File,
		Line:     ev.Line,
		Reason:   reason,
	}
	if err := d.sess.EmitThreadStopped(stopped); err != nil {
		d.sess.ReleaseCommands(d.rec.ID)
		d.sess.ClearCurrent(d.rec.ID)
		return d.disconnect()
	}

	d.log.Debug("thread stopped",
		zap.Int64("thread", d.rec.ID),
		zap.String("file", ev.File),
		zap.Int("line", ev.Line),
		zap.String("reason", reason))

	for {
		cmd, ok := <-cmds
		if !ok {
			d.sess.ClearCurrent(d.rec.ID)
			return d.disconnect()
		}

		switch cmd.Kind {
		case protocol.CommandContinue:
			d.rec.SetMode(session.ModeRun)
			d.sess.ClearCurrent(d.rec.ID)
			d.state = StateRunning
			return StatusContinue

		case protocol.CommandStep:
			d.rec.SetMode(session.ModeStepInto)
			d.sess.ClearCurrent(d.rec.ID)
			d.state = StateStepping
			return StatusContinue

		case protocol.CommandStepOver:
			d.rec.SetMode(session.ModeStepOver)
			d.rec.SetStepDepth(ev.Depth)
			d.sess.ClearCurrent(d.rec.ID)
			d.state = StateStepping
			return StatusContinue

		case protocol.CommandStepOut:
			d.rec.SetMode(session.ModeStepOut)
			d.rec.SetStepDepth(ev.Depth)
			d.sess.ClearCurrent(d.rec.ID)
			d.state = StateStepping
			return StatusContinue

		case protocol.CommandQuit:
			d.sess.BroadcastQuit(d.rec.ID)
			d.rec.SetTracing(false)
			d.sess.ClearCurrent(d.rec.ID)
			d.state = StateQuitting
			return StatusQuit

		case protocol.CommandSetBreak:
			d.breaks.Set(Breakpoint{
				File:      cmd.File,
				Line:      cmd.Line,
				Condition: cmd.Condition,
				Temporary: cmd.Temporary,
			})

		case protocol.CommandClearBreak:
			d.breaks.Clear(cmd.File, cmd.Line)
		}
		// Breakpoint edits keep the thread stopped; wait for the next
		// command.
	}
}

// disconnect handles the IDE connection going away while this thread was
// interacting with it: tracing is pointless without a peer.
func (d *Dispatcher) disconnect() Status {
	d.log.Info("ide connection lost, disabling trace", zap.Int64("thread", d.rec.ID))
	d.rec.SetTracing(false)
	d.state = StateQuitting
	return StatusDisable
}
