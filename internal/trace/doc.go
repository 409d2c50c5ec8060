// Package trace implements the per-thread dispatch state machine: for every
// call, line, return, or exception event of a traced thread it decides
// whether to pause and report to the IDE or let execution continue.
//
// How events are produced is a pluggable capability. Instrumented code calls
// Dispatcher.Dispatch with each event and obeys the returned Status; the
// state machine never knows whether events come from an interpreter hook, a
// compiler-inserted callback, or a scripted test source.
//
// A thread stopped at the debugger holds the session lock while it awaits
// the next IDE command. That is the funnel that keeps at most one thread
// inside the debugger's decision logic or writing to the IDE stream at any
// instant: a second thread reaching a breakpoint blocks on lock acquisition
// until the first resumes. Best-effort operations that must not deadlock
// against a stopped thread use the lock's non-blocking acquisition.
package trace
