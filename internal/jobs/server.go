package jobs

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/tracewire/internal/protocol"
	"github.com/dshills/tracewire/internal/wire"
)

// Banner is the first bytes on a job connection, identifying the serving
// runtime variant. Informational only; clients may ignore it.
const Banner = "TRACEWIRE-GO 1\n"

// Loader resolves INIT messages: it loads the named checker module from the
// search path and registers its entry points.
type Loader interface {
	Load(searchPath, moduleName string, reg *Registry) error
}

// Config configures a job server.
type Config struct {
	// Logger receives server logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// Registry holds the named services. A fresh registry is created when
	// nil.
	Registry *Registry

	// Loader handles INIT messages. Nil rejects INIT with a textual
	// error.
	Loader Loader

	// Workers is the batch pool size. Defaults to PoolSize().
	Workers int
}

// Server speaks the job protocol on one connection: it decodes framed job
// messages, routes them to registered services, and streams results back.
type Server struct {
	log     *zap.Logger
	reg     *Registry
	loader  Loader
	workers int

	// cancel is the connection-wide kill switch: teardown and write
	// failures raise it and every batch observes it.
	cancel  atomic.Bool
	batchWG sync.WaitGroup

	// batchMu guards the in-flight batch state. A second batch while one
	// runs is rejected, so batchCancel always refers to the running batch.
	batchMu     sync.Mutex
	batchActive bool
	batchCancel *atomic.Bool
}

// NewServer creates a job server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = PoolSize()
	}
	return &Server{log: logger, reg: reg, loader: cfg.Loader, workers: workers}
}

// Registry returns the server's service registry.
func (s *Server) Registry() *Registry {
	return s.reg
}

// Serve runs the dispatch loop on conn until the peer disconnects or a
// protocol error terminates the connection. A clean close returns nil; a
// checksum mismatch or truncated frame returns the framing error. An
// unhandled failure inside the loop is reported to the peer as a synthetic
// EXCEPTION message before the error returns.
func (s *Server) Serve(conn io.ReadWriter) error {
	if _, err := io.WriteString(conn, Banner); err != nil {
		return err
	}

	fr := wire.NewFrameReader(conn)
	fw := wire.NewFrameWriter(conn)

	defer func() {
		// The read loop is gone; stop feeding batches and wait for
		// in-flight jobs so workers never write to a dead connection
		// concurrently with teardown.
		s.cancel.Store(true)
		s.batchWG.Wait()
	}()

	for {
		frameType, payload, err := fr.ReadFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			s.log.Warn("job connection terminated", zap.Error(err))
			return err
		}
		if frameType != wire.FrameTypeJob {
			s.log.Debug("ignoring unknown frame type", zap.String("type", frameType))
			continue
		}

		msg, err := protocol.DecodeJob(payload)
		if err != nil {
			s.reportException(fw, "ProtocolError", err.Error())
			return err
		}

		if err := s.dispatch(fw, msg); err != nil {
			s.reportException(fw, fmt.Sprintf("%T", err), err.Error())
			return err
		}
	}
}

// dispatch routes one decoded job message. Handler failures become error
// results; only dispatch-loop level failures return an error.
func (s *Server) dispatch(fw *wire.FrameWriter, msg protocol.JobMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 16*1024)
			n := runtime.Stack(buf, false)
			s.log.Error("dispatch panic", zap.Any("value", r))
			err = fmt.Errorf("dispatch panic: %v\n%s", r, buf[:n])
		}
	}()

	switch {
	case msg.Fn == protocol.FnInit:
		return s.handleInit(fw, msg)

	case msg.Fn == protocol.FnCancel:
		s.batchMu.Lock()
		if s.batchCancel != nil {
			s.batchCancel.Store(true)
		}
		s.batchMu.Unlock()
		return nil

	case msg.IsBatch():
		return s.handleBatch(fw, msg)

	default:
		handler := s.reg.Single(msg.Fn)
		if handler == nil {
			s.log.Warn("unknown service", zap.String("fn", msg.Fn))
			return s.send(fw, ErrorResult(msg.Fn, msg.Key, ErrUnknownService.Error()))
		}
		return s.send(fw, runJob(Job{Fn: msg.Fn, Key: msg.Key, Args: msg.Data}, handler))
	}
}

// handleInit loads a checker module. Load failures are reported as a
// textual error result, not a connection error.
func (s *Server) handleInit(fw *wire.FrameWriter, msg protocol.JobMessage) error {
	args, err := protocol.DecodeInitArgs(msg.Data)
	if err != nil {
		return s.send(fw, ErrorResult(protocol.FnInit, msg.Key, err.Error()))
	}
	if s.loader == nil {
		return s.send(fw, ErrorResult(protocol.FnInit, args.ModuleName, ErrNoLoader.Error()))
	}
	if err := s.loader.Load(args.SearchPath, args.ModuleName, s.reg); err != nil {
		s.log.Warn("module load failed",
			zap.String("module", args.ModuleName),
			zap.Error(err))
		return s.send(fw, ErrorResult(protocol.FnInit, args.ModuleName, err.Error()))
	}

	s.log.Info("module loaded",
		zap.String("module", args.ModuleName),
		zap.String("path", args.SearchPath))
	ok, _ := json.Marshal("ok")
	return s.send(fw, Result{Fn: protocol.FnInit, Key: args.ModuleName, Value: ok})
}

// batchItem is the wire shape of one job inside a batch submission.
type batchItem struct {
	Key  string          `json:"key"`
	Args json.RawMessage `json:"args"`
}

// handleBatch starts a batch in the background so the read loop stays free
// to observe a CANCEL message. One batch per connection runs at a time; a
// second submission is rejected while the first is in flight. The batch's
// cancellation token is installed before the read loop continues, so a
// CANCEL that arrives in the very next frame already has a target.
func (s *Server) handleBatch(fw *wire.FrameWriter, msg protocol.JobMessage) error {
	handler := s.reg.Batch(msg.Fn)
	if handler == nil {
		return s.send(fw, ErrorResult(msg.Fn, msg.Key, ErrUnknownService.Error()))
	}

	var items []batchItem
	if err := json.Unmarshal(msg.Data, &items); err != nil {
		return s.send(fw, ErrorResult(msg.Fn, msg.Key, protocol.ErrMalformedPayload.Error()))
	}

	batch := make([]Job, len(items))
	for i, item := range items {
		batch[i] = Job{Fn: msg.Fn, Key: item.Key, Args: item.Args}
	}

	s.batchMu.Lock()
	if s.batchActive {
		s.batchMu.Unlock()
		return s.send(fw, ErrorResult(msg.Fn, msg.Key, ErrBatchRunning.Error()))
	}
	token := new(atomic.Bool)
	s.batchActive = true
	s.batchCancel = token
	s.batchMu.Unlock()

	cancelled := func() bool {
		return token.Load() || s.cancel.Load()
	}

	s.batchWG.Add(1)
	go func() {
		defer s.batchWG.Done()
		defer func() {
			s.batchMu.Lock()
			s.batchActive = false
			s.batchCancel = nil
			s.batchMu.Unlock()
		}()

		send := func(res Result) {
			if err := s.send(fw, res); err != nil {
				s.log.Warn("result write failed", zap.Error(err))
				token.Store(true)
			}
		}
		handler(batch, send, msg.Fn, cancelled)
	}()
	return nil
}

// send encodes one result as a job frame.
func (s *Server) send(fw *wire.FrameWriter, res Result) error {
	payload, err := protocol.JobMessage{Fn: res.Fn, Key: res.Key, Data: res.Value}.Encode()
	if err != nil {
		return err
	}
	return fw.WriteFrame(wire.FrameTypeJob, payload)
}

// reportException emits the synthetic EXCEPTION message before the
// connection closes. Best effort: the connection may already be gone.
func (s *Server) reportException(fw *wire.FrameWriter, typeName, value string) {
	buf := make([]byte, 8*1024)
	n := runtime.Stack(buf, false)

	msg, err := protocol.ExceptionMessage(typeName, value, string(buf[:n]))
	if err != nil {
		return
	}
	payload, err := msg.Encode()
	if err != nil {
		return
	}
	if err := fw.WriteFrame(wire.FrameTypeJob, payload); err != nil {
		s.log.Debug("exception report failed", zap.Error(err))
	}
}
