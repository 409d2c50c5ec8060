package main

import (
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/tracewire/internal/protocol"
	"github.com/dshills/tracewire/internal/session"
	"github.com/dshills/tracewire/internal/trace"
	"github.com/dshills/tracewire/internal/wire"
)

func newAgentCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "serve debug sessions for IDE connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runAgent(cfg.Agent.Listen, logger)
		},
	}
}

// runAgent accepts IDE connections and runs one debug session per
// connection. The session holds the thread registry and breakpoint table
// that embedding runtimes dispatch trace events against; the control loop
// here services the session's control command stream, which carries only
// the commands that arrive while no traced thread is stopped. A stopped
// thread's commands are funneled to that thread by the session's reader.
func runAgent(listen string, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	logger.Info("agent listening", zap.String("addr", listen))

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			defer conn.Close()
			serveSession(conn, logger)
		}()
	}
}

func serveSession(conn net.Conn, logger *zap.Logger) {
	log := logger.With(zap.String("peer", conn.RemoteAddr().String()))
	sess := session.New(conn, session.Config{Logger: log})
	breaks := trace.NewBreakpoints()

	log.Info("session started", zap.String("session", sess.ID))
	if err := sess.EmitTestEvent(protocol.TestEvent{Tag: wire.TagRunStarted}); err != nil {
		log.Warn("session handshake failed", zap.Error(err))
		return
	}

	for cmd := range sess.ControlCommands() {
		switch cmd.Kind {
		case protocol.CommandSetBreak:
			sess.Lock().Acquire(session.ControlID)
			breaks.Set(trace.Breakpoint{
				File:      cmd.File,
				Line:      cmd.Line,
				Condition: cmd.Condition,
				Temporary: cmd.Temporary,
			})
			sess.Lock().Release(session.ControlID)

		case protocol.CommandClearBreak:
			sess.Lock().Acquire(session.ControlID)
			breaks.Clear(cmd.File, cmd.Line)
			sess.Lock().Release(session.ControlID)

		case protocol.CommandQuit:
			sess.BroadcastQuit(session.ControlID)
			sess.EmitTestEvent(protocol.TestEvent{Tag: wire.TagRunStopped})
			log.Info("session quit requested")
			sess.Wait()
			sess.Close()
			return

		default:
			// Stepping commands only make sense against a stopped
			// thread; a stopped thread consumes them itself.
			log.Debug("ignoring command with no stopped thread",
				zap.String("kind", cmd.Kind.String()))
		}
	}

	sess.BroadcastQuit(session.ControlID)
	sess.Wait()
	sess.Close()
	log.Info("session closed", zap.String("session", sess.ID))
}
