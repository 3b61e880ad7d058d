// Package logging builds the zap loggers used across arbor.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and destinations of a logger.
type Config struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string
	// File receives JSON lines. Parent directories are created. Empty
	// disables file output.
	File string
	// Console also writes human-readable lines to stderr.
	Console bool
}

// New builds a production JSON logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		var err error
		level, err = zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Sampling = nil
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = nil
	zc.ErrorOutputPaths = []string{"stderr"}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}
	if cfg.Console {
		zc.Encoding = "console"
		zc.OutputPaths = append(zc.OutputPaths, "stderr")
	}
	if len(zc.OutputPaths) == 0 {
		return zap.NewNop(), nil
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// ForProject builds a logger writing to file, resolved against root when
// relative. It falls back to a no-op logger if the file cannot be opened.
func ForProject(root, level, file string) *zap.Logger {
	if file != "" && !filepath.IsAbs(file) {
		file = filepath.Join(root, file)
	}
	logger, err := New(Config{Level: level, File: file})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}
