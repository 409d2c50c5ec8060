// Package session coordinates the debuggee side of a debug session: the
// registry of traced threads, the single re-entrant lock that serializes all
// debugger-state mutation, and the connection to the IDE.
//
// There is no ambient global session. Every operation takes the caller's
// thread id explicitly, and thread-start interception is a callback carrying
// the session handle. The lock is keyed by thread id: a thread already
// holding it may re-acquire without deadlocking itself, and releasing a lock
// the caller does not hold is a tolerated no-op so call sites with multiple
// exit paths stay simple.
//
// The connection's read side has exactly one consumer: the session's reader
// goroutine. It funnels commands to the thread stopped at the debugger when
// there is one, and to the control stream otherwise, so a stopped thread and
// a coordinator never compete for the same wire.
package session
