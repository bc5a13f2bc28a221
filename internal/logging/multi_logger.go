package logging

import (
	"context"
	"errors"
)

// MultiLogger sends every entry to each wrapped logger in order
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger, dropping nil loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	kept := make([]Logger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			kept = append(kept, l)
		}
	}
	return &MultiLogger{loggers: kept}
}

func (m *MultiLogger) each(fn func(Logger)) {
	for _, l := range m.loggers {
		fn(l)
	}
}

func (m *MultiLogger) Debug(msg string, fields ...Field) {
	m.each(func(l Logger) { l.Debug(msg, fields...) })
}

func (m *MultiLogger) Info(msg string, fields ...Field) {
	m.each(func(l Logger) { l.Info(msg, fields...) })
}

func (m *MultiLogger) Warn(msg string, fields ...Field) {
	m.each(func(l Logger) { l.Warn(msg, fields...) })
}

func (m *MultiLogger) Error(msg string, fields ...Field) {
	m.each(func(l Logger) { l.Error(msg, fields...) })
}

func (m *MultiLogger) Critical(msg string, fields ...Field) {
	m.each(func(l Logger) { l.Critical(msg, fields...) })
}

func (m *MultiLogger) WithTraceID(traceID string) Logger {
	traced := &MultiLogger{loggers: make([]Logger, 0, len(m.loggers))}
	m.each(func(l Logger) { traced.loggers = append(traced.loggers, l.WithTraceID(traceID)) })
	return traced
}

func (m *MultiLogger) WithContext(ctx context.Context) Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return m.WithTraceID(traceID)
	}
	return m
}

func (m *MultiLogger) SetLevel(level LogLevel) {
	m.each(func(l Logger) { l.SetLevel(level) })
}

// Close closes every wrapped logger and joins their errors
func (m *MultiLogger) Close() error {
	var errs []error
	m.each(func(l Logger) {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// NoOpLogger discards everything
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Debug(string, ...Field)             {}
func (n *NoOpLogger) Info(string, ...Field)              {}
func (n *NoOpLogger) Warn(string, ...Field)              {}
func (n *NoOpLogger) Error(string, ...Field)             {}
func (n *NoOpLogger) Critical(string, ...Field)          {}
func (n *NoOpLogger) WithTraceID(string) Logger          { return n }
func (n *NoOpLogger) WithContext(context.Context) Logger { return n }
func (n *NoOpLogger) SetLevel(LogLevel)                  {}
func (n *NoOpLogger) Close() error                       { return nil }
