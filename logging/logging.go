package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// sugar defaults to a no-op logger so packages under test can log
// without calling Init first.
var sugar = zap.NewNop().Sugar()

// Init builds the process-wide zap logger. format is "json" or "console".
func Init(level, format string) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	var zapConfig zap.Config
	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = logLevel
	zapConfig.OutputPaths = []string{"stdout"}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	sugar = logger.Sugar()
}

func Info(msg string)                                 { sugar.Info(msg) }
func Infof(template string, args ...interface{})      { sugar.Infof(template, args...) }
func Infow(msg string, keysAndValues ...interface{})  { sugar.Infow(msg, keysAndValues...) }
func Warnf(template string, args ...interface{})      { sugar.Warnf(template, args...) }
func Warnw(msg string, keysAndValues ...interface{})  { sugar.Warnw(msg, keysAndValues...) }
func Errorf(template string, args ...interface{})     { sugar.Errorf(template, args...) }
func Errorw(msg string, keysAndValues ...interface{}) { sugar.Errorw(msg, keysAndValues...) }
func Fatalf(template string, args ...interface{})     { sugar.Fatalf(template, args...) }

// Sync flushes any buffered log entries. Call before exit.
func Sync() {
	_ = sugar.Sync()
}
