package main

import (
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/tracewire/internal/checker"
	"github.com/dshills/tracewire/internal/config"
	"github.com/dshills/tracewire/internal/jobs"
)

func newWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "serve background job connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runWorker(cfg, logger)
		},
	}
}

// runWorker accepts job connections. The checker loader is shared across
// connections so a module is loaded once; each connection gets its own
// registry because INIT decides what a given peer may call.
func runWorker(cfg config.Config, logger *zap.Logger) error {
	loader := checker.NewLoader(logger, cfg.Worker.Pool)
	defer loader.Close()

	if cfg.Checkers.Watch && len(cfg.Checkers.SearchPaths) > 0 {
		w, err := checker.NewWatcher(loader, logger, cfg.Checkers.SearchPaths...)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	ln, err := net.Listen("tcp", cfg.Worker.Listen)
	if err != nil {
		return err
	}
	defer ln.Close()
	logger.Info("worker listening",
		zap.String("addr", cfg.Worker.Listen),
		zap.Int("pool", cfg.Worker.Pool))

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go func() {
			defer conn.Close()
			log := logger.With(zap.String("peer", conn.RemoteAddr().String()))
			srv := jobs.NewServer(jobs.Config{
				Logger:  log,
				Loader:  loader,
				Workers: cfg.Worker.Pool,
			})
			if err := srv.Serve(conn); err != nil {
				log.Warn("job connection failed", zap.Error(err))
			}
		}()
	}
}
