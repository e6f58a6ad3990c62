// Package config implements TOML configuration loading and defaults for
// the sync session driver: transport address, chunk size, safety
// thresholds, and logging.
package config

import "fmt"

// SessionConfig is the top-level configuration structure for a cardsync
// session (distilled spec §9 design note, ambient stack §2).
type SessionConfig struct {
	Server  ServerConfig  `toml:"server"`
	Sync    SyncConfig    `toml:"sync"`
	Safety  SafetyConfig  `toml:"safety"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig addresses the reference HTTP transport (§6).
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SyncConfig controls the chunk streamer and corpus path.
type SyncConfig struct {
	CorpusPath string `toml:"corpus_path"`
	ChunkSize  int    `toml:"chunk_size"`
}

// SafetyConfig holds the safety settings. BigDeleteThreshold mirrors the
// teacher's SafetyConfig big-delete guard, generalized to gravestone
// counts; no command reads it, so no session stops to ask for
// confirmation. ForensicDir is likewise not read by any command and is not
// passed on to the sanity checker.
type SafetyConfig struct {
	BigDeleteThreshold int    `toml:"big_delete_threshold"`
	ForensicDir        string `toml:"forensic_dir"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Addr returns the host:port pair the serve command listens on.
func (c ServerConfig) Addr() string {
	if c.Host == "" {
		return fmt.Sprintf(":%d", c.Port)
	}

	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
