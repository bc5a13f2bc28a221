package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestConsole(buf *bytes.Buffer, level LogLevel) *ConsoleLogger {
	l := NewConsoleLogger(ConsoleLoggerConfig{Writer: buf, Level: level, Color: ColorNever, RedactSensitive: true})
	return l
}

func TestConsoleLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsole(&buf, DEBUG)

	logger.WithTraceID("1a2b3c4d-5e6f").Warn("Fetch failed",
		F("provider", "dropbox"),
		F("error", errors.New("connection reset")),
		F("entries", 3),
	)

	want := `WARN     tick=1a2b3c4d Fetch failed provider=dropbox error="connection reset" entries=3` + "\n"
	if got := buf.String(); got != want {
		t.Errorf("line = %q\nwant   %q", got, want)
	}
}

func TestConsoleLogger_Timestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: INFO, Color: ColorNever, TimestampEnabled: true})
	logger.sink.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC) }

	logger.Info("Tick complete")
	if got := buf.String(); got != "09:30:15 INFO     Tick complete\n" {
		t.Errorf("line = %q", got)
	}
}

func TestConsoleLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsole(&buf, WARN)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown")
	logger.Critical("shown")

	if got := strings.Count(buf.String(), "shown"); got != 3 {
		t.Errorf("got %d lines at WARN and above, want 3:\n%s", got, buf.String())
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Error("entries below the level were written")
	}
}

func TestConsoleLogger_TracedCopiesShareLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsole(&buf, INFO)
	traced := logger.WithContext(ContextWithTraceID(context.Background(), "abc"))

	logger.SetLevel(ERROR)
	traced.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("traced copy ignored SetLevel: %q", buf.String())
	}

	if logger.WithContext(context.Background()) != Logger(logger) {
		t.Error("WithContext without a trace ID should return the same logger")
	}
}

func TestConsoleLogger_Color(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: DEBUG, Color: ColorAlways})
	logger.Error("boom")
	if !strings.Contains(buf.String(), "\033[31m") {
		t.Errorf("expected ANSI colour, got %q", buf.String())
	}

	if useColor(ColorAuto, &buf) {
		t.Error("a buffer is never a terminal")
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		secret string
	}{
		{"bearer", "Authorization: Bearer sl.abc123", "sl.abc123"},
		{"refresh token", `{"refresh_token":"r-secret"}`, "r-secret"},
		{"access token form", "access_token=t0ken&x=1", "t0ken"},
		{"reboot pass", "GET http://site/reboot?pass=hunter2", "hunter2"},
		{"aws secret", "aws_secret_access_key=AKIAsecret", "AKIAsecret"},
		{"presigned url", "https://b.s3.amazonaws.com/k?X-Amz-Signature=deadbeef", "deadbeef"},
		{"client secret", "client_secret: shh", "shh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redact(tt.input)
			if strings.Contains(got, tt.secret) {
				t.Errorf("redact(%q) = %q still contains the secret", tt.input, got)
			}
			if !strings.Contains(got, "[REDACTED]") {
				t.Errorf("redact(%q) = %q has no marker", tt.input, got)
			}
		})
	}

	if got := redact("Applied 3 entries"); got != "Applied 3 entries" {
		t.Errorf("plain text changed: %q", got)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"dropbox", "dropbox"},
		{"", `""`},
		{"two words", `"two words"`},
		{42, "42"},
		{errors.New("x=y"), `"x=y"`},
		{WARN, "WARN"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
