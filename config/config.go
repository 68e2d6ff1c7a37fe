// Package config loads kingserver settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Environment variable names.
const (
	EnvName           = "KING_NAME"
	EnvAddr           = "KING_ADDR"
	EnvMaxBufferSize  = "KING_MAX_BUFFER_SIZE"
	EnvMaxConnections = "KING_MAX_CONNECTIONS"
	EnvWriteTimeout   = "KING_WRITE_TIMEOUT"
	EnvLogLevel       = "KING_LOG_LEVEL"
	EnvLogDir         = "KING_LOG_DIR"
)

// Config holds the server settings.
type Config struct {
	Name           string
	Addr           string
	MaxBufferSize  int
	MaxConnections uint32
	WriteTimeout   time.Duration
	LogLevel       zerolog.Level
	// LogDir enables daily log files in addition to stdout when set.
	LogDir string
}

// Default returns the settings used for unset variables.
func Default() Config {
	return Config{
		Name:           "kingserver",
		Addr:           ":7171",
		MaxBufferSize:  4096,
		MaxConnections: 65535,
		WriteTimeout:   10 * time.Second,
		LogLevel:       zerolog.InfoLevel,
	}
}

// Load reads the given .env files (or ./.env when none are given, ignoring a
// missing file) into the process environment without overriding variables
// that are already set, then builds a Config from KING_* variables.
//
// Parameters:
//   - files: Optional .env files; every listed file must exist
//
// Returns:
//   - The Config
//   - An error if a listed file cannot be read or a variable is invalid
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}

	return FromEnv()
}

// FromEnv builds a Config from KING_* variables on top of Default.
func FromEnv() (Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv(EnvName); ok && v != "" {
		cfg.Name = v
	}

	if v, ok := os.LookupEnv(EnvAddr); ok && v != "" {
		cfg.Addr = v
	}

	if v, ok := os.LookupEnv(EnvMaxBufferSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive integer, got %q", EnvMaxBufferSize, v)
		}
		cfg.MaxBufferSize = n
	}

	if v, ok := os.LookupEnv(EnvMaxConnections); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("%s must be a positive integer, got %q", EnvMaxConnections, v)
		}
		cfg.MaxConnections = uint32(n)
	}

	if v, ok := os.LookupEnv(EnvWriteTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%s must be a non-negative duration, got %q", EnvWriteTimeout, v)
		}
		cfg.WriteTimeout = d
	}

	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		level, err := zerolog.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = level
	}

	cfg.LogDir = os.Getenv(EnvLogDir)
	return cfg, nil
}
