// Package logging builds the harness logger: human-readable console output
// teed into the run's cumulative summary log.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewRunLogger returns a logger writing to stderr and, when summaryPath is
// non-empty, to the timestamped summary log inside the run directory.
func NewRunLogger(summaryPath string) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapcore.InfoLevel),
	}

	if summaryPath != "" {
		file, err := os.OpenFile(summaryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open summary log %s: %w", summaryPath, err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), zapcore.InfoLevel))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// NewNop returns a discard-everything logger for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
