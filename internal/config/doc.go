// Package config loads the TOML configuration for the tracewire agent and
// worker processes. Missing files fall back to defaults; a present file is
// validated before use.
package config
