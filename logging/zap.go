package logging

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig 生产环境日志配置
type ZapConfig struct {
	Level    string // debug|info|warn|error
	Format   string // json|console
	Output   string // stdout|stderr|文件路径
	Sampling bool
}

// ZapLogger 基于 zap 的 Logger 实现
type ZapLogger struct {
	z *zap.Logger
}

// NewZapLogger 按配置构建 zap Logger
func NewZapLogger(cfg ZapConfig) (*ZapLogger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(toZapLevel(ParseLevel(cfg.Level)))
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Output != "" {
		zc.OutputPaths = []string{cfg.Output}
	}
	if !cfg.Sampling {
		zc.Sampling = nil
	}
	z, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{z: z}, nil
}

// NewZapLoggerFrom 包装已有的 *zap.Logger
func NewZapLoggerFrom(z *zap.Logger) *ZapLogger {
	if z == nil {
		z = zap.NewNop()
	}
	return &ZapLogger{z: z}
}

func (l *ZapLogger) Debug(_ context.Context, msg string, fields ...Field) {
	l.z.Debug(msg, toZapFields(fields)...)
}
func (l *ZapLogger) Info(_ context.Context, msg string, fields ...Field) {
	l.z.Info(msg, toZapFields(fields)...)
}
func (l *ZapLogger) Warn(_ context.Context, msg string, fields ...Field) {
	l.z.Warn(msg, toZapFields(fields)...)
}
func (l *ZapLogger) Error(_ context.Context, msg string, fields ...Field) {
	l.z.Error(msg, toZapFields(fields)...)
}

func (l *ZapLogger) WithFields(fields ...Field) Logger {
	return &ZapLogger{z: l.z.With(toZapFields(fields)...)}
}

// Sync 刷新缓冲，进程退出前调用
func (l *ZapLogger) Sync() error { return l.z.Sync() }

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case float64:
			out = append(out, zap.Float64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case []string:
			out = append(out, zap.Strings(f.Key, v))
		case error:
			if f.Key == "error" {
				out = append(out, zap.Error(v))
			} else {
				out = append(out, zap.NamedError(f.Key, v))
			}
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}
