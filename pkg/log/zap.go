package log

import (
	"time"

	"go.uber.org/zap"
)

// ZapAdapter implements Logger on top of a *zap.Logger.
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter wraps logger. A nil logger is replaced by zap.NewNop().
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAdapter{logger: logger}
}

func (z *ZapAdapter) Debug(msg string, fields ...Field) { z.logger.Debug(msg, zapFields(fields)...) }
func (z *ZapAdapter) Info(msg string, fields ...Field)  { z.logger.Info(msg, zapFields(fields)...) }
func (z *ZapAdapter) Warn(msg string, fields ...Field)  { z.logger.Warn(msg, zapFields(fields)...) }
func (z *ZapAdapter) Error(msg string, fields ...Field) { z.logger.Error(msg, zapFields(fields)...) }

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}
