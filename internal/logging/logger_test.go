package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"verbose", DEBUG, false},
		{"", INFO, false},
		{"Normal", INFO, false},
		{" warn ", WARN, false},
		{"warning", WARN, false},
		{"quiet", ERROR, false},
		{"critical", CRITICAL, false},
		{"loud", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestLogLevel_String(t *testing.T) {
	if CRITICAL.String() != "CRITICAL" || LogLevel(42).String() != "LEVEL(42)" {
		t.Errorf("String() = %s, %s", CRITICAL, LogLevel(42))
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
		want   string
	}{
		{"nothing", LogConfig{}, "*logging.NoOpLogger"},
		{"console", LogConfig{EnableConsole: true}, "*logging.ConsoleLogger"},
		{"file", LogConfig{OutputFile: "/log/a.log"}, "*logging.FileLogger"},
		{"both", LogConfig{EnableConsole: true, OutputFile: "/log/b.log"}, "*logging.MultiLogger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Fs = afero.NewMemMapFs()
			tt.config.ConsoleWriter = &bytes.Buffer{}
			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() = %v", err)
			}
			defer logger.Close()
			if got := typeName(logger); got != tt.want {
				t.Errorf("NewLogger() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewDebugLoggerWithTransport(t *testing.T) {
	var buf bytes.Buffer
	config := DefaultLogConfig()
	config.ConsoleWriter = &buf
	config.Color = ColorNever

	logger, transport, err := NewDebugLoggerWithTransport(config)
	if err != nil || transport != nil {
		t.Fatalf("without debug: transport = %v, err = %v", transport, err)
	}
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("DEBUG written at INFO: %q", buf.String())
	}

	config.EnableDebug = true
	logger, transport, err = NewDebugLoggerWithTransport(config)
	if err != nil || transport == nil {
		t.Fatalf("with debug: transport = %v, err = %v", transport, err)
	}
	logger.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("debug mode did not lower the level: %q", buf.String())
	}
}

func TestTraceIDContext(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "tick-9")
	if got := TraceIDFromContext(ctx); got != "tick-9" {
		t.Errorf("TraceIDFromContext() = %q", got)
	}
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context gave %q", got)
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case *NoOpLogger:
		return "*logging.NoOpLogger"
	case *ConsoleLogger:
		return "*logging.ConsoleLogger"
	case *FileLogger:
		return "*logging.FileLogger"
	case *MultiLogger:
		return "*logging.MultiLogger"
	}
	return "unknown"
}
