package session

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/tracewire/internal/protocol"
	"github.com/dshills/tracewire/internal/wire"
)

// ControlID is the reserved caller id for the coordinator: code that talks
// to the session from outside any traced thread. Thread ids assigned by the
// session start at 1.
const ControlID int64 = 0

// Hooks are the thread lifecycle callbacks. They replace the ambient
// "current debug client" global of older designs: the interception point
// receives the session handle explicitly.
type Hooks struct {
	// OnThreadStart runs in the new thread after tracing is enabled and
	// before the target is invoked.
	OnThreadStart func(s *Session, t *ThreadRecord)

	// OnThreadExit runs in the thread after the target returns, before
	// the thread leaves the registry.
	OnThreadExit func(s *Session, t *ThreadRecord)
}

// Config configures a session.
type Config struct {
	// Logger receives session lifecycle logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// Hooks are the thread lifecycle callbacks.
	Hooks Hooks
}

// Session is the debuggee-side coordinator: the thread registry, the session
// lock, and the duplex connection to the IDE. One session exists per
// debuggee process.
type Session struct {
	// ID identifies this session across reconnects.
	ID string

	lock   *Lock
	writer *wire.LineWriter
	reader *wire.LineReader
	log    *zap.Logger
	hooks  Hooks

	// Guarded by lock.
	threads map[int64]*ThreadRecord
	current int64
	hasMain bool

	// Command routing. A single reader goroutine owns the wire; decoded
	// commands go to the stopped thread that has taken the funnel, or to
	// the control stream when no thread is stopped.
	routeMu    sync.Mutex
	stoppedCh  chan protocol.Command
	controlCh  chan protocol.Command
	readClosed bool

	nextID   atomic.Int64
	quitting atomic.Bool
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// New creates a session over the IDE connection.
func New(conn io.ReadWriter, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		ID:        uuid.NewString(),
		lock:      NewLock(),
		writer:    wire.NewLineWriter(conn),
		reader:    wire.NewLineReader(conn),
		log:       logger,
		hooks:     cfg.Hooks,
		threads:   make(map[int64]*ThreadRecord),
		controlCh: make(chan protocol.Command, 16),
	}
	go s.readLoop()
	return s
}

// Lock returns the session lock. Trace dispatch acquires it for the
// duration of decision-making and event reporting.
func (s *Session) Lock() *Lock {
	return s.lock
}

// RegisterThread creates a thread record and begins tracing. For the main
// thread the target runs in the calling thread and RegisterThread returns
// after it completes; otherwise a new thread is spawned whose entry point
// enables tracing before invoking the target. Returns the assigned id.
func (s *Session) RegisterThread(name string, target func() error, isMain bool) (int64, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	if !isMain && target == nil {
		return 0, ErrNoTarget
	}

	id := s.nextID.Add(1)
	rec := &ThreadRecord{ID: id, Name: name, Main: isMain, Target: target}

	s.lock.Acquire(id)
	if isMain && s.hasMain {
		s.lock.Release(id)
		return 0, ErrMainExists
	}
	if isMain {
		s.hasMain = true
	}
	s.threads[id] = rec
	s.lock.Release(id)

	s.log.Debug("thread registered",
		zap.Int64("thread", id),
		zap.String("name", name),
		zap.Bool("main", isMain))

	if isMain {
		s.bootstrap(rec)
		return id, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.bootstrap(rec)
	}()
	return id, nil
}

// bootstrap is the entry point of every traced thread. It enables tracing,
// invokes the target, converts panics and errors into exception events, and
// removes the thread from the registry on the way out. The quit signal is
// swallowed: a thread unwound by quit exits without an exception event.
func (s *Session) bootstrap(rec *ThreadRecord) {
	rec.SetTracing(true)
	if h := s.hooks.OnThreadStart; h != nil {
		h(s, rec)
	}

	err := s.runTarget(rec)

	rec.SetTracing(false)
	if h := s.hooks.OnThreadExit; h != nil {
		h(s, rec)
	}

	// Exit reporting happens under the session lock so it serializes with
	// a stopped thread's own reporting on the shared stream.
	s.lock.Acquire(rec.ID)
	if err != nil && err != ErrThreadQuit {
		exc := protocol.Exception{
			Type:      fmt.Sprintf("%T", err),
			Message:   err.Error(),
			Traceback: "",
		}
		if pe, ok := err.(*panicError); ok {
			exc.Type = "panic"
			exc.Message = fmt.Sprint(pe.value)
			exc.Traceback = pe.stack
		}
		if emitErr := s.EmitException(exc); emitErr != nil {
			s.log.Warn("emit exception failed", zap.Error(emitErr))
		}
	}

	s.UnregisterThread(rec.ID)
	if emitErr := s.emitThreadExited(rec.ID); emitErr != nil {
		s.log.Debug("emit thread exit failed", zap.Error(emitErr))
	}
	s.lock.Release(rec.ID)
}

// panicError carries a recovered panic out of a target function.
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// runTarget invokes the thread target with panic recovery.
func (s *Session) runTarget(rec *ThreadRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 16*1024)
			n := runtime.Stack(buf, false)
			err = &panicError{value: r, stack: string(buf[:n])}
		}
	}()

	if rec.Target == nil {
		return nil
	}
	return rec.Target()
}

// UnregisterThread removes a thread record. Unknown ids are tolerated
// silently, so unregistering twice is a no-op.
func (s *Session) UnregisterThread(id int64) {
	s.lock.Acquire(id)
	if s.current == id {
		s.current = 0
	}
	if rec, ok := s.threads[id]; ok {
		delete(s.threads, id)
		if rec.Main {
			s.hasMain = false
		}
		s.log.Debug("thread unregistered", zap.Int64("thread", id))
	}
	s.lock.Release(id)
}

// SetCurrent marks the calling thread as the one at the debugger. The IDE's
// subsequent queries are routed to this thread's stack.
func (s *Session) SetCurrent(tid int64) {
	s.lock.Acquire(tid)
	s.current = tid
	s.lock.Release(tid)
}

// ClearCurrent clears the current-thread pointer if the caller owns it.
func (s *Session) ClearCurrent(tid int64) {
	s.lock.Acquire(tid)
	if s.current == tid {
		s.current = 0
	}
	s.lock.Release(tid)
}

// Current returns the id of the thread at the debugger, or zero when no
// thread is stopped.
func (s *Session) Current(tid int64) int64 {
	s.lock.Acquire(tid)
	defer s.lock.Release(tid)
	return s.current
}

// Thread returns the record for id, or nil.
func (s *Session) Thread(tid, id int64) *ThreadRecord {
	s.lock.Acquire(tid)
	defer s.lock.Release(tid)
	return s.threads[id]
}

// Threads returns a snapshot of the registered thread records.
func (s *Session) Threads(tid int64) []*ThreadRecord {
	s.lock.Acquire(tid)
	defer s.lock.Release(tid)

	out := make([]*ThreadRecord, 0, len(s.threads))
	for _, rec := range s.threads {
		out = append(out, rec)
	}
	return out
}

// BroadcastQuit requests teardown of every traced thread. The lock is taken
// non-blocking: a thread stopped inside the debugger may hold it
// indefinitely, and quit must not deadlock behind it. When the lock is
// unavailable only the session-wide quit flag is raised; each thread's
// dispatch observes it on its next event and disables its own hooks.
// Reports whether per-thread flags were set directly.
func (s *Session) BroadcastQuit(tid int64) bool {
	s.quitting.Store(true)

	if !s.lock.TryAcquire(tid) {
		s.log.Debug("quit broadcast deferred, lock busy")
		return false
	}
	for _, rec := range s.threads {
		rec.RequestQuit()
	}
	s.lock.Release(tid)
	return true
}

// QuitRequested reports whether a session-wide quit is in progress.
func (s *Session) QuitRequested() bool {
	return s.quitting.Load()
}

// EmitTestEvent writes a test event line to the IDE.
func (s *Session) EmitTestEvent(ev protocol.TestEvent) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return s.writer.WriteLine(ev.Tag, payload)
}

// EmitException writes a user-code exception event to the IDE.
func (s *Session) EmitException(exc protocol.Exception) error {
	payload, err := exc.Encode()
	if err != nil {
		return err
	}
	return s.writer.WriteLine(wire.TagException, payload)
}

// EmitThreadStopped reports the calling thread paused to the IDE.
func (s *Session) EmitThreadStopped(ev protocol.ThreadStopped) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return s.writer.WriteLine(wire.TagThreadStopped, payload)
}

// emitThreadExited reports a thread leaving the registry.
func (s *Session) emitThreadExited(id int64) error {
	payload, err := protocol.ThreadExited{ThreadID: id}.Encode()
	if err != nil {
		return err
	}
	return s.writer.WriteLine(wire.TagThreadExited, payload)
}

// readCommand blocks until the next IDE command arrives, skipping event
// lines and ordinary output interleaved on the stream. Connection loss is
// returned as the underlying read error. Only the reader goroutine calls it.
func (s *Session) readCommand() (protocol.Command, error) {
	for {
		tag, payload, err := s.reader.Skip()
		if err != nil {
			return protocol.Command{}, err
		}
		cmd, err := protocol.DecodeCommand(tag, payload)
		if err == protocol.ErrUnknownCommandTag {
			// An event tag echoed back; not ours to handle.
			continue
		}
		if err == protocol.ErrMalformedPayload {
			s.log.Warn("malformed command payload skipped", zap.String("tag", tag.String()))
			continue
		}
		if err != nil {
			return protocol.Command{}, err
		}
		return cmd, nil
	}
}

// readLoop is the session's single command reader. Every command on the
// connection passes through here exactly once; no other goroutine touches
// the read side. On connection loss both delivery channels close.
func (s *Session) readLoop() {
	for {
		cmd, err := s.readCommand()
		if err != nil {
			if err != io.EOF && err != wire.ErrConnectionClosed {
				s.log.Warn("command stream failed", zap.Error(err))
			}
			s.routeMu.Lock()
			s.readClosed = true
			stopped := s.stoppedCh
			s.stoppedCh = nil
			s.routeMu.Unlock()
			if stopped != nil {
				close(stopped)
			}
			close(s.controlCh)
			return
		}
		s.deliver(cmd)
	}
}

// deliver routes one command. While a stopped thread owns the funnel it
// receives every command; a resume detaches the funnel before the next read,
// so a command racing with the resume lands on the control stream as if it
// had arrived while running.
func (s *Session) deliver(cmd protocol.Command) {
	s.routeMu.Lock()
	ch := s.stoppedCh
	s.routeMu.Unlock()

	if ch == nil {
		s.controlCh <- cmd
		return
	}
	ch <- cmd
	if cmd.Kind.Resumes() {
		s.routeMu.Lock()
		if s.stoppedCh == ch {
			s.stoppedCh = nil
		}
		s.routeMu.Unlock()
	}
}

// TakeCommands funnels the command stream to the calling stopped thread.
// The returned channel delivers every subsequent command until one that
// resumes the thread, after which the funnel reverts to the control stream.
// The channel closes on connection loss.
func (s *Session) TakeCommands(tid int64) <-chan protocol.Command {
	ch := make(chan protocol.Command)
	s.routeMu.Lock()
	if s.readClosed {
		s.routeMu.Unlock()
		close(ch)
		return ch
	}
	s.stoppedCh = ch
	s.routeMu.Unlock()

	s.log.Debug("command stream funneled", zap.Int64("thread", tid))
	return ch
}

// ReleaseCommands abandons a funnel taken by TakeCommands without a resume
// command, for a thread bailing out of its stop. A command already routed to
// the funnel is redirected to the control stream.
func (s *Session) ReleaseCommands(tid int64) {
	s.routeMu.Lock()
	ch := s.stoppedCh
	s.stoppedCh = nil
	s.routeMu.Unlock()
	if ch == nil {
		return
	}
	for {
		select {
		case cmd := <-ch:
			select {
			case s.controlCh <- cmd:
			default:
			}
		default:
			return
		}
	}
}

// ControlCommands returns the stream of commands that arrive while no thread
// is stopped: breakpoint edits, quit, and anything racing with a resume. The
// channel closes when the connection is lost.
func (s *Session) ControlCommands() <-chan protocol.Command {
	return s.controlCh
}

// Wait blocks until all non-main traced threads have exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close marks the session closed. Registered threads keep running; callers
// broadcast quit first when a full teardown is wanted.
func (s *Session) Close() {
	s.closed.Store(true)
}
