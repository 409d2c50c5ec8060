package session

import "errors"

// Session errors.
var (
	// ErrThreadQuit is the distinguished quit signal. A traced thread
	// whose target returns this error terminates silently: no exception
	// event is emitted and the thread is removed from the registry.
	ErrThreadQuit = errors.New("session: thread quit requested")

	// ErrMainExists indicates a second thread was registered as main.
	ErrMainExists = errors.New("session: main thread already registered")

	// ErrNoTarget indicates a non-main thread was registered without a
	// target function.
	ErrNoTarget = errors.New("session: thread target is nil")

	// ErrSessionClosed indicates the session has been shut down.
	ErrSessionClosed = errors.New("session: session closed")
)
