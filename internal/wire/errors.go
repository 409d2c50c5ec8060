package wire

import "errors"

// Framing errors.
var (
	// ErrConnectionClosed indicates the stream ended mid-message.
	ErrConnectionClosed = errors.New("wire: connection closed mid-message")

	// ErrChecksumMismatch indicates a frame payload failed checksum
	// verification. The connection must be closed.
	ErrChecksumMismatch = errors.New("wire: frame checksum mismatch")

	// ErrFrameTooLarge indicates a frame header declared a payload larger
	// than the reader's limit.
	ErrFrameTooLarge = errors.New("wire: frame exceeds size limit")

	// ErrLineTooLong indicates a protocol line exceeded the reader's limit.
	ErrLineTooLong = errors.New("wire: line exceeds size limit")

	// ErrUnknownTag indicates a line did not start with a known message tag.
	// Callers on the debug protocol skip such lines.
	ErrUnknownTag = errors.New("wire: unknown message tag")
)
