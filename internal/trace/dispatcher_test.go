package trace

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/tracewire/internal/protocol"
	"github.com/dshills/tracewire/internal/session"
	"github.com/dshills/tracewire/internal/wire"
)

// testIDE is the IDE end of a session: commands go in through a pipe, events
// come out into a concurrency-safe buffer.
type testIDE struct {
	mu     sync.Mutex
	out    bytes.Buffer
	pr     *io.PipeReader
	pw     *io.PipeWriter
	writer *wire.LineWriter
}

func newTestIDE() *testIDE {
	pr, pw := io.Pipe()
	return &testIDE{pr: pr, pw: pw, writer: wire.NewLineWriter(pw)}
}

func (c *testIDE) Read(p []byte) (int, error) { return c.pr.Read(p) }

func (c *testIDE) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *testIDE) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

// Send issues one IDE command to the debuggee.
func (c *testIDE) Send(t *testing.T, cmd protocol.Command) {
	t.Helper()
	tag, payload, err := cmd.Encode()
	if err != nil {
		t.Fatalf("encode command: %v", err)
	}
	if err := c.writer.WriteLine(tag, payload); err != nil {
		t.Fatalf("send command: %v", err)
	}
}

// Disconnect closes the IDE-to-debuggee direction.
func (c *testIDE) Disconnect() {
	c.pw.Close()
}

func (c *testIDE) waitOutput(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(c.Output(), substr) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("output never contained %q: %q", substr, c.Output())
}

// newTracedThread registers a blocked-forever thread record for driving the
// dispatcher directly in tests.
func newTracedThread(t *testing.T, s *session.Session, name string) (*session.ThreadRecord, func()) {
	t.Helper()
	release := make(chan struct{})
	id, err := s.RegisterThread(name, func() error {
		<-release
		return nil
	}, false)
	if err != nil {
		t.Fatalf("register thread: %v", err)
	}
	rec := s.Thread(session.ControlID, id)
	if rec == nil {
		t.Fatal("thread record not found")
	}
	// Bootstrap enables tracing in the spawned goroutine; wait for it so
	// dispatch does not race the thread's startup.
	deadline := time.Now().Add(2 * time.Second)
	for !rec.Tracing() {
		if time.Now().After(deadline) {
			t.Fatal("thread never enabled tracing")
		}
		time.Sleep(time.Millisecond)
	}
	// Wait for this thread alone: Session.Wait waits on every traced
	// thread, which deadlocks when another thread's release channel is
	// still open.
	return rec, func() {
		close(release)
		deadline := time.Now().Add(2 * time.Second)
		for s.Thread(session.ControlID, id) != nil {
			if time.Now().After(deadline) {
				t.Fatal("thread never exited")
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestDispatchFreeRun(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stop := newTracedThread(t, s, "worker")
	defer stop()

	d := NewDispatcher(s, rec, NewBreakpoints(), Config{})

	for line := 1; line <= 10; line++ {
		ev := Event{Kind: EventLine, File: "a.py", Line: line, Depth: 1}
		if got := d.Dispatch(ev); got != StatusContinue {
			t.Fatalf("line %d: status = %v, want continue", line, got)
		}
	}
	if out := ide.Output(); out != "" {
		t.Errorf("free run produced output: %q", out)
	}
	if d.State() != StateRunning {
		t.Errorf("state = %v, want running", d.State())
	}
}

func TestDispatchBreakpointStopAndContinue(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	breaks := NewBreakpoints()
	breaks.Set(Breakpoint{File: "a.py", Line: 3})
	d := NewDispatcher(s, rec, breaks, Config{})

	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 3, Depth: 1})
	}()

	ide.waitOutput(t, string(wire.TagThreadStopped))
	if d.State() != StateStopped {
		t.Errorf("state = %v, want stopped", d.State())
	}

	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})

	if got := <-result; got != StatusContinue {
		t.Fatalf("status = %v, want continue", got)
	}
	if rec.Mode() != session.ModeRun {
		t.Errorf("mode = %v, want run", rec.Mode())
	}
	if got := s.Current(session.ControlID); got != 0 {
		t.Errorf("current = %d after continue, want 0", got)
	}
}

func TestDispatchStopReportsLocation(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	breaks := NewBreakpoints()
	breaks.Set(Breakpoint{File: "pkg/mod.py", Line: 17})
	d := NewDispatcher(s, rec, breaks, Config{})

	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventLine, File: "pkg/mod.py", Line: 17, Depth: 2})
	}()

	ide.waitOutput(t, string(wire.TagThreadStopped))

	r := wire.NewLineReader(strings.NewReader(ide.Output()))
	tag, payload, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read stopped event: %v", err)
	}
	if tag != wire.TagThreadStopped {
		t.Fatalf("tag = %q", tag)
	}
	ev, err := protocol.DecodeThreadStopped(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.ThreadID != rec.ID || ev.File != "pkg/mod.py" || ev.Line != 17 || ev.Reason != "breakpoint" {
		t.Errorf("stopped event = %+v", ev)
	}

	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})
	<-result
}

func TestDispatchStepInto(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	d := NewDispatcher(s, rec, NewBreakpoints(), Config{})
	rec.SetMode(session.ModeStepInto)

	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 1, Depth: 1})
	}()

	ide.waitOutput(t, `"step"`)
	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})
	if got := <-result; got != StatusContinue {
		t.Fatalf("status = %v", got)
	}
}

func TestDispatchStepOver(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	breaks := NewBreakpoints()
	breaks.Set(Breakpoint{File: "a.py", Line: 1})
	d := NewDispatcher(s, rec, breaks, Config{})

	// Stop at the breakpoint, then issue step-over at depth 2.
	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 1, Depth: 2})
	}()
	ide.waitOutput(t, string(wire.TagThreadStopped))
	ide.Send(t, protocol.Command{Kind: protocol.CommandStepOver})
	<-result

	if rec.Mode() != session.ModeStepOver {
		t.Fatalf("mode = %v, want step-over", rec.Mode())
	}

	// Deeper frames run freely.
	if got := d.Dispatch(Event{Kind: EventLine, File: "b.py", Line: 9, Depth: 3}); got != StatusContinue {
		t.Fatalf("deep line: status = %v", got)
	}
	if d.State() != StateStepping {
		t.Errorf("state = %v, want stepping", d.State())
	}

	// Back at the issuing depth the step completes.
	result = make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 2, Depth: 2})
	}()
	ide.waitOutput(t, `a.py",2`)
	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})
	if got := <-result; got != StatusContinue {
		t.Fatalf("status = %v", got)
	}
}

func TestDispatchStepOut(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	d := NewDispatcher(s, rec, NewBreakpoints(), Config{})
	rec.SetMode(session.ModeStepOut)
	rec.SetStepDepth(3)

	// Events at or below the issuing depth do not complete the step.
	if got := d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 5, Depth: 3}); got != StatusContinue {
		t.Fatalf("same depth: status = %v", got)
	}
	if got := d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 6, Depth: 4}); got != StatusContinue {
		t.Fatalf("deeper: status = %v", got)
	}

	// Control returning below the issuing depth completes it.
	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventReturn, File: "a.py", Line: 2, Depth: 2})
	}()
	ide.waitOutput(t, string(wire.TagThreadStopped))
	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})
	<-result
}

func TestDispatchQuitFlagMidRun(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	d := NewDispatcher(s, rec, NewBreakpoints(), Config{})

	rec.RequestQuit()

	if got := d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 1, Depth: 1}); got != StatusQuit {
		t.Fatalf("status = %v, want quit", got)
	}
	if rec.Tracing() {
		t.Error("hooks still enabled after quit observed")
	}
	if d.State() != StateQuitting {
		t.Errorf("state = %v, want quitting", d.State())
	}

	// Further events after hooks were disabled just ask for removal.
	if got := d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 2, Depth: 1}); got != StatusDisable {
		t.Errorf("status = %v, want disable", got)
	}
}

func TestDispatchQuitCommand(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	breaks := NewBreakpoints()
	breaks.Set(Breakpoint{File: "a.py", Line: 1})
	d := NewDispatcher(s, rec, breaks, Config{})

	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 1, Depth: 1})
	}()
	ide.waitOutput(t, string(wire.TagThreadStopped))
	ide.Send(t, protocol.Command{Kind: protocol.CommandQuit})

	if got := <-result; got != StatusQuit {
		t.Fatalf("status = %v, want quit", got)
	}
	if !s.QuitRequested() {
		t.Error("session quit flag not raised")
	}
}

func TestDispatchBreakpointEditsWhileStopped(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	breaks := NewBreakpoints()
	breaks.Set(Breakpoint{File: "a.py", Line: 1})
	d := NewDispatcher(s, rec, breaks, Config{})

	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 1, Depth: 1})
	}()
	ide.waitOutput(t, string(wire.TagThreadStopped))

	// Install and remove breakpoints without resuming.
	ide.Send(t, protocol.Command{Kind: protocol.CommandSetBreak, File: "b.py", Line: 20})
	ide.Send(t, protocol.Command{Kind: protocol.CommandClearBreak, File: "a.py", Line: 1})
	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})

	if got := <-result; got != StatusContinue {
		t.Fatalf("status = %v", got)
	}
	if breaks.Get("b.py", 20) == nil {
		t.Error("breakpoint set while stopped is missing")
	}
	if breaks.Get("a.py", 1) != nil {
		t.Error("breakpoint cleared while stopped is still present")
	}
}

func TestDispatchExceptionReported(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	d := NewDispatcher(s, rec, NewBreakpoints(), Config{})

	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{
			Kind:  EventException,
			File:  "a.py",
			Line:  8,
			Depth: 1,
			Err:   errors.New("division by zero"),
		})
	}()

	ide.waitOutput(t, string(wire.TagException))
	ide.waitOutput(t, string(wire.TagThreadStopped))
	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})
	<-result

	if !strings.Contains(ide.Output(), "division by zero") {
		t.Errorf("exception message missing: %q", ide.Output())
	}
}

func TestDispatchDisconnectWhileStopped(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	breaks := NewBreakpoints()
	breaks.Set(Breakpoint{File: "a.py", Line: 1})
	d := NewDispatcher(s, rec, breaks, Config{})

	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 1, Depth: 1})
	}()
	ide.waitOutput(t, string(wire.TagThreadStopped))
	ide.Disconnect()

	if got := <-result; got != StatusDisable {
		t.Fatalf("status = %v, want disable", got)
	}
	if rec.Tracing() {
		t.Error("hooks still enabled after disconnect")
	}
}

func TestControlConsumerDoesNotStealStoppedThreadCommands(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec, stopThread := newTracedThread(t, s, "worker")
	defer stopThread()

	breaks := NewBreakpoints()
	breaks.Set(Breakpoint{File: "a.py", Line: 1})
	d := NewDispatcher(s, rec, breaks, Config{})

	// A coordinator drains the control stream for the whole test, the way
	// an embedding process services commands between stops.
	var mu sync.Mutex
	var stray []protocol.CommandKind
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for cmd := range s.ControlCommands() {
			mu.Lock()
			stray = append(stray, cmd.Kind)
			mu.Unlock()
		}
	}()

	result := make(chan Status, 1)
	go func() {
		result <- d.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 1, Depth: 1})
	}()
	ide.waitOutput(t, string(wire.TagThreadStopped))
	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})

	// The continue reaches the stopped thread, never the coordinator.
	if got := <-result; got != StatusContinue {
		t.Fatalf("status = %v, want continue", got)
	}

	ide.Disconnect()
	<-drained

	mu.Lock()
	defer mu.Unlock()
	if len(stray) != 0 {
		t.Errorf("control stream consumed stopped-thread commands: %v", stray)
	}
}

func TestTwoThreadsOneAtDebugger(t *testing.T) {
	ide := newTestIDE()
	s := session.New(ide, session.Config{})
	rec1, stop1 := newTracedThread(t, s, "worker-1")
	defer stop1()
	rec2, stop2 := newTracedThread(t, s, "worker-2")
	defer stop2()

	breaks := NewBreakpoints()
	breaks.Set(Breakpoint{File: "a.py", Line: 1})
	breaks.Set(Breakpoint{File: "b.py", Line: 1})
	d1 := NewDispatcher(s, rec1, breaks, Config{})
	d2 := NewDispatcher(s, rec2, breaks, Config{})

	res1 := make(chan Status, 1)
	go func() {
		res1 <- d1.Dispatch(Event{Kind: EventLine, File: "a.py", Line: 1, Depth: 1})
	}()
	ide.waitOutput(t, `a.py`)

	// Thread 2 reaches its breakpoint while thread 1 is at the debugger:
	// its dispatch must block on the session lock.
	res2 := make(chan Status, 1)
	go func() {
		res2 <- d2.Dispatch(Event{Kind: EventLine, File: "b.py", Line: 1, Depth: 1})
	}()

	// Reading session state through the lock would block here too: thread 1
	// holds it while stopped. Observe through the output stream instead.
	time.Sleep(30 * time.Millisecond)
	if strings.Contains(ide.Output(), "b.py") {
		t.Fatal("second thread reported a stop while the first was current")
	}
	select {
	case got := <-res2:
		t.Fatalf("second dispatch returned %v while first thread stopped", got)
	default:
	}

	// Resume thread 1; thread 2 then becomes current and stops.
	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})
	if got := <-res1; got != StatusContinue {
		t.Fatalf("first status = %v", got)
	}
	if rec1.Mode() != session.ModeRun {
		t.Errorf("first thread mode = %v, want run", rec1.Mode())
	}

	ide.waitOutput(t, `b.py`)
	ide.Send(t, protocol.Command{Kind: protocol.CommandContinue})
	if got := <-res2; got != StatusContinue {
		t.Fatalf("second status = %v", got)
	}
	if rec2.Mode() != session.ModeRun {
		t.Errorf("second thread mode = %v, want run", rec2.Mode())
	}
}
