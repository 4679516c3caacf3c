// Package logger wires the process-wide zap logger. Init runs once from
// main; everything else reaches the logger through L.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var root *zap.Logger

// Init builds the process logger and installs it as the package global.
// level accepts the zap level names (debug, info, warn, error, dpanic,
// panic, fatal); format is json or console.
func Init(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	enc, err := newEncoder(format)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl)
	root = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return root, nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	switch strings.ToLower(format) {
	case "json":
		return zapcore.NewJSONEncoder(cfg), nil
	case "console":
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// L returns the process logger. Panics when Init has not run.
func L() *zap.Logger {
	if root == nil {
		panic("logger not initialized: call logger.Init first")
	}
	return root
}

// Sync flushes buffered entries. Safe to call before Init.
func Sync() {
	if root != nil {
		_ = root.Sync()
	}
}
