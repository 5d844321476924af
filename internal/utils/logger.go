package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogEncodingConsole renders human-readable log lines.
	LogEncodingConsole = "console"
	// LogEncodingJSON renders structured JSON log lines.
	LogEncodingJSON = "json"

	defaultLogLevel             = "info"
	unsupportedEncodingErrorFmt = "unsupported log encoding %q"
)

// NewApplicationLogger constructs a zap logger at the given level and encoding.
// Empty values fall back to info level with console output.
func NewApplicationLogger(levelName, encoding string) (*zap.Logger, error) {
	normalizedLevel := strings.ToLower(strings.TrimSpace(levelName))
	if normalizedLevel == EmptyString {
		normalizedLevel = defaultLogLevel
	}
	parsedLevel, levelError := zapcore.ParseLevel(normalizedLevel)
	if levelError != nil {
		return nil, levelError
	}

	normalizedEncoding := strings.ToLower(strings.TrimSpace(encoding))
	if normalizedEncoding == EmptyString {
		normalizedEncoding = LogEncodingConsole
	}
	if normalizedEncoding != LogEncodingConsole && normalizedEncoding != LogEncodingJSON {
		return nil, fmt.Errorf(unsupportedEncodingErrorFmt, encoding)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parsedLevel)
	config.Encoding = normalizedEncoding
	config.DisableCaller = true
	config.DisableStacktrace = true
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if normalizedEncoding == LogEncodingConsole {
		config.EncoderConfig.TimeKey = ""
		config.EncoderConfig.NameKey = ""
		config.EncoderConfig.CallerKey = ""
		config.EncoderConfig.StacktraceKey = ""
	} else {
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.EncoderConfig.MessageKey = "message"
	return config.Build()
}
