package jobs

import "errors"

// Job dispatch errors.
var (
	// ErrUnknownService indicates a job targeted a function name with no
	// registered handler.
	ErrUnknownService = errors.New("jobs: unknown service")

	// ErrBatchRunning indicates a batch submission arrived while another
	// batch for the same connection was still in flight.
	ErrBatchRunning = errors.New("jobs: batch already running")

	// ErrNoLoader indicates an INIT message arrived but the server has no
	// module loader configured.
	ErrNoLoader = errors.New("jobs: no module loader configured")
)
