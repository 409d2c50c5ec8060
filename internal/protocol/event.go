package protocol

import (
	"encoding/json"

	"github.com/dshills/tracewire/internal/wire"
)

// TestEvent is one outcome or lifecycle report from a test run. The wire
// form is the tag followed by a JSON array [display, details, id].
type TestEvent struct {
	// Tag identifies the event kind (started, failed, skipped, ...).
	Tag wire.Tag

	// Display is the human-readable test description.
	Display string

	// Details carries the failure message or traceback, empty otherwise.
	Details string

	// ID is the stable test identifier.
	ID string
}

var testEventTags = map[wire.Tag]struct{}{
	wire.TagRunStarted:        {},
	wire.TagRunStopped:        {},
	wire.TagTestStarted:       {},
	wire.TagTestStopped:       {},
	wire.TagTestFailed:        {},
	wire.TagTestErrored:       {},
	wire.TagTestSkipped:       {},
	wire.TagExpectedFailure:   {},
	wire.TagUnexpectedSuccess: {},
	wire.TagTestOutput:        {},
}

// Encode serializes the event payload. The caller writes it with the
// event's tag on the line framing.
func (e TestEvent) Encode() ([]byte, error) {
	if _, ok := testEventTags[e.Tag]; !ok {
		return nil, ErrUnknownEventTag
	}
	return json.Marshal([3]string{e.Display, e.Details, e.ID})
}

// DecodeTestEvent parses a test-event payload for the given tag.
func DecodeTestEvent(tag wire.Tag, payload []byte) (TestEvent, error) {
	if _, ok := testEventTags[tag]; !ok {
		return TestEvent{}, ErrUnknownEventTag
	}
	var fields [3]string
	if err := json.Unmarshal(payload, &fields); err != nil {
		return TestEvent{}, ErrMalformedPayload
	}
	return TestEvent{Tag: tag, Display: fields[0], Details: fields[1], ID: fields[2]}, nil
}

// ThreadStopped reports a traced thread pausing at a breakpoint or the
// completion of a step. Line is 1-based.
type ThreadStopped struct {
	ThreadID int64
	File     string
	Line     int
	Reason   string
}

// Encode serializes the payload for wire.TagThreadStopped.
func (e ThreadStopped) Encode() ([]byte, error) {
	return json.Marshal([4]any{e.ThreadID, e.File, e.Line, e.Reason})
}

// DecodeThreadStopped parses a wire.TagThreadStopped payload.
func DecodeThreadStopped(payload []byte) (ThreadStopped, error) {
	var fields [4]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ThreadStopped{}, ErrMalformedPayload
	}
	var e ThreadStopped
	if err := json.Unmarshal(fields[0], &e.ThreadID); err != nil {
		return ThreadStopped{}, ErrMalformedPayload
	}
	if err := json.Unmarshal(fields[1], &e.File); err != nil {
		return ThreadStopped{}, ErrMalformedPayload
	}
	if err := json.Unmarshal(fields[2], &e.Line); err != nil {
		return ThreadStopped{}, ErrMalformedPayload
	}
	if err := json.Unmarshal(fields[3], &e.Reason); err != nil {
		return ThreadStopped{}, ErrMalformedPayload
	}
	return e, nil
}

// ThreadExited reports a traced thread leaving the registry.
type ThreadExited struct {
	ThreadID int64
}

// Encode serializes the payload for wire.TagThreadExited.
func (e ThreadExited) Encode() ([]byte, error) {
	return json.Marshal([1]int64{e.ThreadID})
}

// DecodeThreadExited parses a wire.TagThreadExited payload.
func DecodeThreadExited(payload []byte) (ThreadExited, error) {
	var fields [1]int64
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ThreadExited{}, ErrMalformedPayload
	}
	return ThreadExited{ThreadID: fields[0]}, nil
}

// Exception reports a user-code exception as a structured event.
type Exception struct {
	// Type is the exception's type name.
	Type string

	// Message is the exception's display value.
	Message string

	// Traceback is the formatted stack at the raise point.
	Traceback string
}

// Encode serializes the payload for wire.TagException.
func (e Exception) Encode() ([]byte, error) {
	return json.Marshal([3]string{e.Type, e.Message, e.Traceback})
}

// DecodeException parses a wire.TagException payload.
func DecodeException(payload []byte) (Exception, error) {
	var fields [3]string
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Exception{}, ErrMalformedPayload
	}
	return Exception{Type: fields[0], Message: fields[1], Traceback: fields[2]}, nil
}
