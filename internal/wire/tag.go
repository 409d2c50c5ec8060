package wire

// Tag identifies the kind of a debug-protocol line. Every tag is exactly
// TagWidth ASCII bytes so the reader can split tag and payload without
// scanning for a delimiter.
type Tag string

// TagWidth is the fixed width of a line tag in bytes.
const TagWidth = 6

// Event tags, sent debuggee to IDE.
const (
	// TagRunStarted brackets the start of a test run.
	TagRunStarted Tag = "RUNSTR"
	// TagRunStopped brackets the end of a test run.
	TagRunStopped Tag = "RUNSTP"
	// TagTestStarted reports a single test beginning.
	TagTestStarted Tag = "TSTSTR"
	// TagTestStopped reports a single test finishing.
	TagTestStopped Tag = "TSTSTP"
	// TagTestFailed reports an assertion failure.
	TagTestFailed Tag = "TSTFAI"
	// TagTestErrored reports an unexpected error during a test.
	TagTestErrored Tag = "TSTERR"
	// TagTestSkipped reports a skipped test.
	TagTestSkipped Tag = "TSTSKP"
	// TagExpectedFailure reports a failure that was marked expected.
	TagExpectedFailure Tag = "TSTXFL"
	// TagUnexpectedSuccess reports a success that was marked expected to fail.
	TagUnexpectedSuccess Tag = "TSTXPS"
	// TagTestOutput passes captured test output through to the IDE.
	TagTestOutput Tag = "TSTOUT"
	// TagThreadStopped reports a traced thread paused at a breakpoint or step.
	TagThreadStopped Tag = "THRSTP"
	// TagThreadExited reports a traced thread leaving the registry.
	TagThreadExited Tag = "THREXT"
	// TagException reports a user-code exception as a structured event.
	TagException Tag = "EXCEPT"
)

// Command tags, sent IDE to debuggee.
const (
	// TagCommandContinue resumes free execution.
	TagCommandContinue Tag = "CMDCNT"
	// TagCommandStep steps into the next call.
	TagCommandStep Tag = "CMDSTP"
	// TagCommandStepOver steps over the current line.
	TagCommandStepOver Tag = "CMDSOV"
	// TagCommandStepOut runs until the current frame returns.
	TagCommandStepOut Tag = "CMDSOU"
	// TagCommandQuit tears down the session.
	TagCommandQuit Tag = "CMDQIT"
	// TagCommandSetBreak installs a breakpoint.
	TagCommandSetBreak Tag = "CMDBPS"
	// TagCommandClearBreak removes a breakpoint.
	TagCommandClearBreak Tag = "CMDBPC"
)

var knownTags = map[Tag]struct{}{
	TagRunStarted:        {},
	TagRunStopped:        {},
	TagTestStarted:       {},
	TagTestStopped:       {},
	TagTestFailed:        {},
	TagTestErrored:       {},
	TagTestSkipped:       {},
	TagExpectedFailure:   {},
	TagUnexpectedSuccess: {},
	TagTestOutput:        {},
	TagThreadStopped:     {},
	TagThreadExited:      {},
	TagException:         {},
	TagCommandContinue:   {},
	TagCommandStep:       {},
	TagCommandStepOver:   {},
	TagCommandStepOut:    {},
	TagCommandQuit:       {},
	TagCommandSetBreak:   {},
	TagCommandClearBreak: {},
}

// Known reports whether t is a tag this protocol version understands.
func (t Tag) Known() bool {
	_, ok := knownTags[t]
	return ok
}

// String returns the tag as a plain string.
func (t Tag) String() string {
	return string(t)
}
