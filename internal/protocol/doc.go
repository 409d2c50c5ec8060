// Package protocol encodes and decodes the structured payloads carried by
// the wire framing layers: test-run events, thread events, exception
// reports, IDE commands, and background-job requests and results.
//
// Payloads are JSON on both protocols. Line numbers on the wire are 1-based
// everywhere; there is no mixed convention.
//
// Decoding is defensive. A payload that does not match the expected shape
// reports ErrMalformedPayload and never panics: on the debug protocol the
// caller skips the line, on the job protocol the caller treats it as fatal
// for the connection.
package protocol
