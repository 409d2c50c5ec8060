package protocol

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Well-known job function names.
const (
	// FnInit loads a checker module and registers it as a named service.
	FnInit = "INIT"

	// FnCancel requests cooperative cancellation of the running batch.
	FnCancel = "CANCEL"

	// FnException is the synthetic function name used to report an
	// unhandled error in the dispatch loop before closing the connection.
	FnException = "EXCEPTION"

	// BatchPrefix marks a function name as a batch submission routed to a
	// registered batch handler.
	BatchPrefix = "batch_"
)

// JobMessage is one unit on the job protocol, request or result alike. The
// wire form is a JSON array [functionName, key, argsOrResult].
type JobMessage struct {
	// Fn is the target function name (request) or originating function
	// name (result).
	Fn string

	// Key correlates a result with its request, typically the file path
	// for checker jobs.
	Key string

	// Data is the job-kind-specific arguments or result value, left raw
	// for the handler to interpret.
	Data json.RawMessage
}

// IsBatch reports whether the message targets a registered batch handler.
func (m JobMessage) IsBatch() bool {
	return strings.HasPrefix(m.Fn, BatchPrefix)
}

// Encode serializes the message for the frame payload.
func (m JobMessage) Encode() ([]byte, error) {
	data := m.Data
	if data == nil {
		data = json.RawMessage("null")
	}
	return json.Marshal([3]json.RawMessage{
		mustMarshalString(m.Fn),
		mustMarshalString(m.Key),
		data,
	})
}

// DecodeJob parses a frame payload into a JobMessage. The shape is probed
// before unmarshalling so a hostile or truncated payload cannot produce a
// half-filled message.
func DecodeJob(payload []byte) (JobMessage, error) {
	if !gjson.ValidBytes(payload) {
		return JobMessage{}, ErrMalformedPayload
	}
	root := gjson.ParseBytes(payload)
	if !root.IsArray() {
		return JobMessage{}, ErrMalformedPayload
	}
	parts := root.Array()
	if len(parts) != 3 || parts[0].Type != gjson.String || parts[1].Type != gjson.String {
		return JobMessage{}, ErrMalformedPayload
	}

	var fields [3]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return JobMessage{}, ErrMalformedPayload
	}
	return JobMessage{
		Fn:   parts[0].String(),
		Key:  parts[1].String(),
		Data: fields[2],
	}, nil
}

// InitArgs are the arguments of an FnInit message.
type InitArgs struct {
	// SearchPath is the directory to load the checker module from.
	SearchPath string

	// ModuleName is the checker module to load, without extension.
	ModuleName string
}

// Encode serializes init arguments as the Data of an FnInit message.
func (a InitArgs) Encode() (json.RawMessage, error) {
	return json.Marshal([2]string{a.SearchPath, a.ModuleName})
}

// DecodeInitArgs parses the Data of an FnInit message.
func DecodeInitArgs(data json.RawMessage) (InitArgs, error) {
	var fields [2]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return InitArgs{}, ErrMalformedPayload
	}
	return InitArgs{SearchPath: fields[0], ModuleName: fields[1]}, nil
}

// ExceptionMessage builds the synthetic FnException message reported when
// the dispatch loop fails.
func ExceptionMessage(typeName, value, traceback string) (JobMessage, error) {
	data, err := json.Marshal([3]string{typeName, value, traceback})
	if err != nil {
		return JobMessage{}, err
	}
	return JobMessage{Fn: FnException, Data: data}, nil
}

// DecodeExceptionData parses the Data of an FnException message.
func DecodeExceptionData(data json.RawMessage) (Exception, error) {
	var fields [3]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return Exception{}, ErrMalformedPayload
	}
	return Exception{Type: fields[0], Message: fields[1], Traceback: fields[2]}, nil
}

// mustMarshalString marshals a string, which cannot fail.
func mustMarshalString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}
