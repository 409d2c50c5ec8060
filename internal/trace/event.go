package trace

// EventKind enumerates the interpreter events a traced thread dispatches.
type EventKind int

const (
	// EventCall reports entry into a new frame.
	EventCall EventKind = iota
	// EventLine reports execution reaching a new source line.
	EventLine
	// EventReturn reports a frame returning.
	EventReturn
	// EventException reports an uncaught exception unwinding the thread.
	EventException
)

// String returns a readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventCall:
		return "call"
	case EventLine:
		return "line"
	case EventReturn:
		return "return"
	case EventException:
		return "exception"
	default:
		return "unknown"
	}
}

// Event is one traced execution event. Line is 1-based. Depth is the frame
// depth at the event, with the thread's entry frame at depth 1; step-over
// and step-out completion are decided by comparing depths.
type Event struct {
	Kind  EventKind
	File  string
	Line  int
	Depth int

	// Err carries the exception for EventException.
	Err error
}

// Status is the dispatcher's instruction to the instrumentation layer after
// an event.
type Status int

const (
	// StatusContinue keeps tracing: deliver the next event.
	StatusContinue Status = iota
	// StatusDisable removes this thread's hooks; no further events are
	// wanted, but the thread itself keeps running.
	StatusDisable
	// StatusQuit unwinds the thread. The instrumentation must make the
	// thread's target return session.ErrThreadQuit.
	StatusQuit
)

// String returns a readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusDisable:
		return "disable"
	case StatusQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Sink is the instrumentation boundary: event producers feed a Sink and obey
// the returned status.
type Sink interface {
	Dispatch(Event) Status
}
