// Package wire implements the two framing layers of the tracewire protocols.
//
// The debug session protocol is line oriented: each message is a fixed-width
// ASCII tag followed by a payload and a trailing newline. The stream may be
// interleaved with ordinary program output, so readers skip lines that do not
// carry a known tag.
//
// The background job protocol is binary framed: a 4-byte big-endian payload
// length, a 4-byte big-endian Adler-32 checksum of the payload, a 6-byte
// ASCII frame type, then the payload itself. A checksum mismatch is fatal for
// the connection; an unknown frame type is consumed and ignored so the stream
// stays in sync.
//
// Both layers are pure byte-to-message transforms. They make no assumption
// about the underlying transport beyond io.Reader/io.Writer semantics, so a
// pipe, TCP socket, or serial line all work.
package wire
