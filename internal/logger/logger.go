// Package logger wraps a process-wide zap logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var l *zap.Logger

// Init builds the global logger. Level accepts debug/info/warn/error;
// anything else falls back to info.
func Init(level string) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	var err error
	l, err = cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
}

func get() *zap.Logger {
	if l == nil {
		Init("info")
	}
	return l
}

func Debug(msg string, fields ...zap.Field) { get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { get().Fatal(msg, fields...) }

func Debugf(format string, args ...interface{}) { get().Sugar().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { get().Sugar().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { get().Sugar().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { get().Sugar().Errorf(format, args...) }

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	if l != nil {
		_ = l.Sync()
	}
}
