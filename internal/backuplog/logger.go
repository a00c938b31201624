// Package backuplog provides the concrete zap-backed implementation of
// vault.Logger wired in at the CLI entry point. Nothing under pkg/ imports
// this package or zap directly — the core only ever sees the interface.
package backuplog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vaultchain/pkg/vault"
)

// ZapLogger adapts a *zap.Logger to vault.Logger.
type ZapLogger struct {
	z *zap.Logger
}

// New builds a console-friendly logger. verbose enables debug-level output.
func New(verbose bool) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{z: z}, nil
}

func toZapFields(fields []vault.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (l *ZapLogger) Info(msg string, fields ...vault.Field) {
	l.z.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields ...vault.Field) {
	l.z.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields ...vault.Field) {
	l.z.Error(msg, toZapFields(fields)...)
}

// Sync flushes any buffered log entries; call it before process exit.
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}
