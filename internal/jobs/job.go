package jobs

import "encoding/json"

// Job is one unit of background work: check one file, format one buffer.
type Job struct {
	// Fn is the originating function name, carried through to the result.
	Fn string

	// Key identifies the job within its batch, typically the file path.
	Key string

	// Args are the handler-specific arguments, left raw.
	Args json.RawMessage
}

// Result is the outcome of one job.
type Result struct {
	// Fn is the originating function name.
	Fn string

	// Key matches the job's key.
	Key string

	// Value is the handler-specific result payload.
	Value json.RawMessage
}

// errorValue is the wire shape of an error-carrying result value.
type errorValue struct {
	Error string `json:"error"`
}

// ErrorResult builds a result carrying an error payload. Per-job failures
// are data, not crashes: they flow back through the same channel as
// successes.
func ErrorResult(fn, key, message string) Result {
	value, _ := json.Marshal(errorValue{Error: message})
	return Result{Fn: fn, Key: key, Value: value}
}

// IsError reports whether the result carries an error payload, and returns
// the message when it does.
func (r Result) IsError() (string, bool) {
	var ev errorValue
	if err := json.Unmarshal(r.Value, &ev); err != nil {
		return "", false
	}
	if ev.Error == "" {
		return "", false
	}
	return ev.Error, true
}
