package logging

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// LogLevel orders log severities
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	// CRITICAL marks conditions that stop the sync loop and need an operator
	CRITICAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel maps a config string onto a level.
// It accepts both level names and the verbosity presets used in config files.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "normal", "":
		return INFO, nil
	case "verbose":
		return DEBUG, nil
	case "warn", "warning":
		return WARN, nil
	case "error", "quiet":
		return ERROR, nil
	case "critical":
		return CRITICAL, nil
	}
	return INFO, fmt.Errorf("unknown log level: %q", s)
}

// Field is a structured key/value attached to a log entry
type Field struct {
	Key   string
	Value interface{}
}

// F creates a Field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the logging surface used across the module
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Critical(msg string, fields ...Field)
	WithTraceID(traceID string) Logger
	WithContext(ctx context.Context) Logger
	SetLevel(level LogLevel)
	Close() error
}

// LogEntry is the JSON shape written by FileLogger
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"traceId,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogConfig configures NewLogger
type LogConfig struct {
	Level LogLevel
	// OutputFile adds a JSON-lines file logger when set.
	OutputFile  string
	Fs          afero.Fs
	MaxFileSize int64
	MaxBackups  int
	// EnableConsole adds a human-readable logger on ConsoleWriter (stderr by default).
	EnableConsole   bool
	ConsoleWriter   io.Writer
	Color           ColorMode
	EnableTimestamp bool
	EnableDebug     bool
	RedactSensitive bool
}

// DefaultLogConfig returns the logging defaults for the daemon
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:           INFO,
		EnableConsole:   true,
		RedactSensitive: true,
		EnableTimestamp: true,
		MaxFileSize:     50 * 1024 * 1024,
		MaxBackups:      5,
	}
}

// NewLogger builds a console logger, a file logger, both, or a no-op logger
func NewLogger(config LogConfig) (Logger, error) {
	var loggers []Logger

	if config.OutputFile != "" {
		fileLogger, err := NewFileLogger(FileLoggerConfig{
			Fs:              config.Fs,
			FilePath:        config.OutputFile,
			Level:           config.Level,
			MaxFileSize:     config.MaxFileSize,
			MaxBackups:      config.MaxBackups,
			RedactSensitive: config.RedactSensitive,
		})
		if err != nil {
			return nil, err
		}
		loggers = append(loggers, fileLogger)
	}

	if config.EnableConsole {
		loggers = append(loggers, NewConsoleLogger(ConsoleLoggerConfig{
			Writer:           config.ConsoleWriter,
			Level:            config.Level,
			Color:            config.Color,
			TimestampEnabled: config.EnableTimestamp,
			RedactSensitive:  config.RedactSensitive,
		}))
	}

	switch len(loggers) {
	case 0:
		return NewNoOpLogger(), nil
	case 1:
		return loggers[0], nil
	default:
		return NewMultiLogger(loggers...), nil
	}
}

// NewDebugLoggerWithTransport builds a logger and, when debug is enabled,
// an HTTP transport that traces provider requests through it.
func NewDebugLoggerWithTransport(config LogConfig) (Logger, *DebugTransport, error) {
	if config.EnableDebug {
		config.Level = DEBUG
	}
	logger, err := NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	if !config.EnableDebug {
		return logger, nil, nil
	}
	return logger, NewDebugTransport(nil, logger), nil
}

type traceIDKey struct{}

// ContextWithTraceID stores a trace ID in the context
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext extracts the trace ID stored by ContextWithTraceID
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}
