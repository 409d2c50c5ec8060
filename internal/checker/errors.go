package checker

import "errors"

// Checker errors.
var (
	// ErrModuleNotFound indicates the module file does not exist under
	// the search path.
	ErrModuleNotFound = errors.New("checker: module not found")

	// ErrNoCheckFunction indicates the module did not define a global
	// check function.
	ErrNoCheckFunction = errors.New("checker: module defines no check function")

	// ErrBadDiagnostics indicates the check function returned something
	// other than a table of diagnostics.
	ErrBadDiagnostics = errors.New("checker: invalid diagnostics from check function")

	// ErrModuleClosed indicates the module has been unloaded.
	ErrModuleClosed = errors.New("checker: module closed")
)
