package config

import (
	"fmt"
	"net"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full tracewire configuration.
type Config struct {
	Agent    AgentConfig    `toml:"agent"`
	Worker   WorkerConfig   `toml:"worker"`
	Checkers CheckersConfig `toml:"checkers"`
	Log      LogConfig      `toml:"log"`
}

// AgentConfig configures the debug agent.
type AgentConfig struct {
	// Listen is the address the debug session listener binds to.
	Listen string `toml:"listen"`
}

// WorkerConfig configures the job worker.
type WorkerConfig struct {
	// Listen is the address the job listener binds to.
	Listen string `toml:"listen"`

	// Pool overrides the batch pool size. Zero means size from the CPU
	// count.
	Pool int `toml:"pool"`
}

// CheckersConfig configures checker module loading.
type CheckersConfig struct {
	// SearchPaths are extra directories searched for checker modules,
	// ahead of the path supplied on INIT.
	SearchPaths []string `toml:"search_paths"`

	// Watch enables live reload of checker modules on file change.
	Watch bool `toml:"watch"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Agent:  AgentConfig{Listen: "127.0.0.1:4444"},
		Worker: WorkerConfig{Listen: "127.0.0.1:4445"},
		Checkers: CheckersConfig{
			Watch: true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the configuration file at path, layered over the defaults. A
// missing file returns the defaults without error; a present but invalid
// file returns an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	for _, addr := range []string{c.Agent.Listen, c.Worker.Listen} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidListen, addr)
		}
	}
	if c.Worker.Pool < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPoolSize, c.Worker.Pool)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	return nil
}
