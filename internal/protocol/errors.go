package protocol

import "errors"

// Codec errors.
var (
	// ErrMalformedPayload indicates a payload did not match the expected
	// shape for its tag.
	ErrMalformedPayload = errors.New("protocol: malformed payload")

	// ErrUnknownEventTag indicates a tag that does not carry a test event.
	ErrUnknownEventTag = errors.New("protocol: tag is not a test event")

	// ErrUnknownCommandTag indicates a tag that does not carry a command.
	ErrUnknownCommandTag = errors.New("protocol: tag is not a command")
)
