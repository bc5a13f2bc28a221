package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// ColorMode selects when console output is colourised
type ColorMode int

const (
	// ColorAuto colours output only when the writer is a terminal and NO_COLOR is unset
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

const (
	colorReset = "\033[0m"
	colorDim   = "\033[90m"
)

var levelColors = map[LogLevel]string{
	DEBUG:    "\033[34m",
	WARN:     "\033[33m",
	ERROR:    "\033[31m",
	CRITICAL: "\033[1;31m",
}

// consoleSink is shared by a ConsoleLogger and every traced copy of it
type consoleSink struct {
	mu     sync.Mutex
	w      io.Writer
	level  LogLevel
	color  bool
	stamp  bool
	redact bool
	now    func() time.Time
}

// ConsoleLogger writes one line per entry:
//
//	15:04:05 WARN     tick=1a2b3c4d Fetch failed provider=dropbox error="connection reset"
type ConsoleLogger struct {
	sink    *consoleSink
	traceID string
}

// ConsoleLoggerConfig configures NewConsoleLogger
type ConsoleLoggerConfig struct {
	// Writer defaults to stderr.
	Writer           io.Writer
	Level            LogLevel
	Color            ColorMode
	TimestampEnabled bool
	RedactSensitive  bool
}

// NewConsoleLogger creates a console logger
func NewConsoleLogger(config ConsoleLoggerConfig) *ConsoleLogger {
	if config.Writer == nil {
		config.Writer = os.Stderr
	}
	return &ConsoleLogger{sink: &consoleSink{
		w:      config.Writer,
		level:  config.Level,
		color:  useColor(config.Color, config.Writer),
		stamp:  config.TimestampEnabled,
		redact: config.RedactSensitive,
		now:    time.Now,
	}}
}

func useColor(mode ColorMode, w io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *consoleSink) paint(b *strings.Builder, color, text string) {
	if !s.color || color == "" {
		b.WriteString(text)
		return
	}
	b.WriteString(color)
	b.WriteString(text)
	b.WriteString(colorReset)
}

func (s *consoleSink) clean(text string) string {
	if s.redact {
		return redact(text)
	}
	return text
}

func (l *ConsoleLogger) log(level LogLevel, msg string, fields []Field) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	var b strings.Builder
	if s.stamp {
		s.paint(&b, colorDim, s.now().Format("15:04:05"))
		b.WriteByte(' ')
	}
	s.paint(&b, levelColors[level], fmt.Sprintf("%-8s", level))
	if l.traceID != "" {
		b.WriteByte(' ')
		s.paint(&b, colorDim, "tick="+shortTraceID(l.traceID))
	}
	b.WriteByte(' ')
	b.WriteString(s.clean(msg))
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(s.clean(formatValue(f.Value)))
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(s.w, b.String())
}

// formatValue quotes values that would otherwise break key=value parsing
func formatValue(v interface{}) string {
	var text string
	switch x := v.(type) {
	case error:
		text = x.Error()
	case fmt.Stringer:
		text = x.String()
	default:
		text = fmt.Sprint(v)
	}
	if text == "" || strings.ContainsAny(text, " \t\n=\"") {
		return strconv.Quote(text)
	}
	return text
}

func shortTraceID(traceID string) string {
	if len(traceID) > 8 {
		return traceID[:8]
	}
	return traceID
}

func (l *ConsoleLogger) Debug(msg string, fields ...Field)    { l.log(DEBUG, msg, fields) }
func (l *ConsoleLogger) Info(msg string, fields ...Field)     { l.log(INFO, msg, fields) }
func (l *ConsoleLogger) Warn(msg string, fields ...Field)     { l.log(WARN, msg, fields) }
func (l *ConsoleLogger) Error(msg string, fields ...Field)    { l.log(ERROR, msg, fields) }
func (l *ConsoleLogger) Critical(msg string, fields ...Field) { l.log(CRITICAL, msg, fields) }

// WithTraceID returns a logger sharing this one's writer and level
func (l *ConsoleLogger) WithTraceID(traceID string) Logger {
	return &ConsoleLogger{sink: l.sink, traceID: traceID}
}

func (l *ConsoleLogger) WithContext(ctx context.Context) Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.WithTraceID(traceID)
	}
	return l
}

// SetLevel changes the level for this logger and its traced copies
func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

func (l *ConsoleLogger) Close() error {
	return nil
}
