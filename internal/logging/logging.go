package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// atomicLevel is shared by every logger built here so the level can be
// changed after construction.
var atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// New builds the process logger. format is "json" or "console".
func New(level, format string) (*zap.Logger, error) {
	if err := SetLevel(level); err != nil {
		return nil, err
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = atomicLevel
	cfg.Sampling = nil

	return cfg.Build(zap.AddCaller())
}

// SetLevel changes the level of all loggers built by New.
func SetLevel(level string) error {
	if level == "" {
		level = "info"
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	atomicLevel.SetLevel(l)
	return nil
}
