package log

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func init() {
	zap.ReplaceGlobals(zap.New(
		zapcore.NewCore(
			zapcore.NewJSONEncoder(config()),
			zapcore.Lock(os.Stdout),
			logLevel,
		),
	))
}

func config() zapcore.EncoderConfig {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return encoderCfg
}

// Debug logs a debug message with optional key/value pairs.
func Debug(msg string, keysAndValues ...interface{}) {
	zap.S().Debugw(Clean(msg), keysAndValues...)
}

// Info logs an info message with optional key/value pairs.
func Info(msg string, keysAndValues ...interface{}) {
	zap.S().Infow(Clean(msg), keysAndValues...)
}

// Warn logs a warning message with optional key/value pairs.
func Warn(msg string, keysAndValues ...interface{}) {
	zap.S().Warnw(Clean(msg), keysAndValues...)
}

// Error logs an error message with optional key/value pairs.
func Error(msg string, keysAndValues ...interface{}) {
	zap.S().Errorw(Clean(msg), keysAndValues...)
}

// Panic logs a message and then panics.
func Panic(msg string, keysAndValues ...interface{}) {
	zap.S().Panicw(Clean(msg), keysAndValues...)
}

// Fatal logs a message and then calls os.Exit(1).
func Fatal(msg string, keysAndValues ...interface{}) {
	zap.S().Fatalw(Clean(msg), keysAndValues...)
}

// SetLevel sets the global log level. Accepted values are
// debug, info, warn, error, dpanic, panic and fatal (case-insensitive).
func SetLevel(level string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return err
	}
	logLevel.SetLevel(l)
	return nil
}

// GetLevel returns the current global log level.
func GetLevel() zapcore.Level {
	return logLevel.Level()
}

// Clean normalises a log message to lowercase without
// surrounding whitespace.
func Clean(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}
