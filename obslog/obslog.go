// Package obslog is the structured logging facade used by every component.
// It wraps go.uber.org/zap behind a small interface so engine/auth/sync
// code never imports zap directly, mirroring the teacher's log/nolog.go
// split between a real logger and a no-op one behind a shared interface.
package obslog

import "go.uber.org/zap"

// Logger is the structured logging interface consumed throughout this
// module. Fields are passed as zap.Field so callers get compile-time
// checked, structured output rather than interpolated strings.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

// zapLogger adapts a *zap.Logger to Logger.
type zapLogger struct {
	l *zap.Logger
}

// NewZap wraps an existing *zap.Logger.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{l: l}
}

// NewProduction builds a Logger using zap's production defaults (JSON
// output, info level).
func NewProduction() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZap(l), nil
}

func (z *zapLogger) Debug(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...zap.Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...zap.Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...zap.Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

// NoOp is a Logger that discards everything, used in tests and as the
// default when no logger is configured.
type NoOp struct{}

// New returns a no-op Logger.
func New() Logger { return NoOp{} }

func (NoOp) Debug(string, ...zap.Field) {}
func (NoOp) Info(string, ...zap.Field)  {}
func (NoOp) Warn(string, ...zap.Field)  {}
func (NoOp) Error(string, ...zap.Field) {}
func (n NoOp) With(...zap.Field) Logger { return n }
