package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and decodes a TOML config file on top of DefaultConfig, so
// unset fields retain their defaults.
func Load(path string, logger *slog.Logger) (*SessionConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("loading config file", slog.String("path", path))

	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault reads path if present, otherwise returns an all-defaults
// config — the zero-config first-run path.
func LoadOrDefault(path string, logger *slog.Logger) (*SessionConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", slog.String("path", path))

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

func validate(cfg *SessionConfig) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}

	if cfg.Sync.ChunkSize <= 0 {
		return fmt.Errorf("sync.chunk_size must be positive, got %d", cfg.Sync.ChunkSize)
	}

	if cfg.Sync.CorpusPath == "" {
		return errors.New("sync.corpus_path must not be empty")
	}

	return nil
}
