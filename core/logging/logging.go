// Package logging is a thin wrapper of zap logging library.
//
// Log levels are configured per package through environment variables:
//
//	PCIDMA_LOG_nwldma=D   debug level for package "nwldma"
//	PCIDMA_LOG=W          warning level for every other package
//
// The first letter of the value is significant: V and D select debug, I info,
// W warning, E error, F and N suppress everything below DPanic.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "PCIDMA_LOG"

var root = func() *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		os.Stderr,
		zap.DebugLevel,
	)
	return zap.New(core)
}()

// Named creates a named logger without level initialization.
func Named(pkg string) *zap.Logger {
	return root.Named(pkg)
}

// New creates a logger initialized with configured log level.
//
// By codebase convention, this should appear in the same .go file as the package docstring:
//
//	var logger = logging.New("Foo")
func New(pkg string) *zap.Logger {
	return Named(pkg).WithOptions(zap.IncreaseLevel(GetLevel(pkg).al))
}

// Sync flushes buffered log entries.
func Sync() error {
	return root.Sync()
}
