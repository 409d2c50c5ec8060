package config

import "errors"

// Configuration errors.
var (
	// ErrInvalidListen indicates a listen address that cannot be used.
	ErrInvalidListen = errors.New("config: invalid listen address")

	// ErrInvalidPoolSize indicates a negative worker pool size.
	ErrInvalidPoolSize = errors.New("config: pool size must not be negative")

	// ErrInvalidLogLevel indicates an unrecognized log level name.
	ErrInvalidLogLevel = errors.New("config: invalid log level")
)
