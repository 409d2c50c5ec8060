package protocol

import (
	"encoding/json"

	"github.com/dshills/tracewire/internal/wire"
)

// CommandKind enumerates the IDE-issued debugger commands.
type CommandKind int

const (
	// CommandContinue resumes free execution.
	CommandContinue CommandKind = iota
	// CommandStep steps into the next call.
	CommandStep
	// CommandStepOver steps over the current line.
	CommandStepOver
	// CommandStepOut runs until the current frame returns.
	CommandStepOut
	// CommandQuit tears down the session.
	CommandQuit
	// CommandSetBreak installs a breakpoint.
	CommandSetBreak
	// CommandClearBreak removes a breakpoint.
	CommandClearBreak
)

// String returns a readable name for the command kind.
func (k CommandKind) String() string {
	switch k {
	case CommandContinue:
		return "continue"
	case CommandStep:
		return "step"
	case CommandStepOver:
		return "step-over"
	case CommandStepOut:
		return "step-out"
	case CommandQuit:
		return "quit"
	case CommandSetBreak:
		return "set-breakpoint"
	case CommandClearBreak:
		return "clear-breakpoint"
	default:
		return "unknown"
	}
}

// Resumes reports whether the command ends a stopped thread's wait at the
// debugger. Execution-control commands do; breakpoint edits leave the thread
// stopped.
func (k CommandKind) Resumes() bool {
	switch k {
	case CommandContinue, CommandStep, CommandStepOver, CommandStepOut, CommandQuit:
		return true
	default:
		return false
	}
}

// Command is one IDE-issued debugger command. File, Line, Condition and
// Temporary are meaningful for the breakpoint commands only. Line is
// 1-based.
type Command struct {
	Kind      CommandKind
	File      string
	Line      int
	Condition string
	Temporary bool
}

var commandTags = map[wire.Tag]CommandKind{
	wire.TagCommandContinue:   CommandContinue,
	wire.TagCommandStep:       CommandStep,
	wire.TagCommandStepOver:   CommandStepOver,
	wire.TagCommandStepOut:    CommandStepOut,
	wire.TagCommandQuit:       CommandQuit,
	wire.TagCommandSetBreak:   CommandSetBreak,
	wire.TagCommandClearBreak: CommandClearBreak,
}

var commandKindTags = map[CommandKind]wire.Tag{
	CommandContinue:   wire.TagCommandContinue,
	CommandStep:       wire.TagCommandStep,
	CommandStepOver:   wire.TagCommandStepOver,
	CommandStepOut:    wire.TagCommandStepOut,
	CommandQuit:       wire.TagCommandQuit,
	CommandSetBreak:   wire.TagCommandSetBreak,
	CommandClearBreak: wire.TagCommandClearBreak,
}

// breakpointPayload is the wire form of a breakpoint command payload.
type breakpointPayload struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
	Temporary bool   `json:"temporary,omitempty"`
}

// Encode serializes the command. It returns the tag to write and the
// payload. Non-breakpoint commands carry an empty JSON object so every line
// has a payload.
func (c Command) Encode() (wire.Tag, []byte, error) {
	tag, ok := commandKindTags[c.Kind]
	if !ok {
		return "", nil, ErrUnknownCommandTag
	}

	switch c.Kind {
	case CommandSetBreak, CommandClearBreak:
		payload, err := json.Marshal(breakpointPayload{
			File:      c.File,
			Line:      c.Line,
			Condition: c.Condition,
			Temporary: c.Temporary,
		})
		if err != nil {
			return "", nil, err
		}
		return tag, payload, nil
	default:
		return tag, []byte("{}"), nil
	}
}

// DecodeCommand parses a command line for the given tag.
func DecodeCommand(tag wire.Tag, payload []byte) (Command, error) {
	kind, ok := commandTags[tag]
	if !ok {
		return Command{}, ErrUnknownCommandTag
	}

	cmd := Command{Kind: kind}
	switch kind {
	case CommandSetBreak, CommandClearBreak:
		var bp breakpointPayload
		if err := json.Unmarshal(payload, &bp); err != nil {
			return Command{}, ErrMalformedPayload
		}
		cmd.File = bp.File
		cmd.Line = bp.Line
		cmd.Condition = bp.Condition
		cmd.Temporary = bp.Temporary
	}
	return cmd, nil
}
