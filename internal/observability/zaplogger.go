package observability

import (
	"go.uber.org/zap"

	"github.com/gostratum/core/logx"
)

// zapLogger adapts a *zap.Logger to the logx.Logger interface every gateway
// component is written against.
type zapLogger struct {
	l *zap.Logger
}

// NewZapLogger wraps l into a logx.Logger. cmd/ingestgw supplies this into
// the fx graph so every component logs structured JSON through one core.
func NewZapLogger(l *zap.Logger) logx.Logger {
	return &zapLogger{l: l}
}

func (z *zapLogger) Debug(msg string, fields ...logx.Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...logx.Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...logx.Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...logx.Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) With(fields ...logx.Field) logx.Logger  { return &zapLogger{l: z.l.With(fields...)} }
