package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type closeErrLogger struct {
	NoOpLogger
	err error
}

func (c *closeErrLogger) Close() error { return c.err }

func TestMultiLogger_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiLogger(
		NewConsoleLogger(ConsoleLoggerConfig{Writer: &a, Level: DEBUG, Color: ColorNever}),
		nil,
		NewConsoleLogger(ConsoleLoggerConfig{Writer: &b, Level: WARN, Color: ColorNever}),
	)

	traced := multi.WithContext(ContextWithTraceID(context.Background(), "abcdef123456"))
	traced.Info("Listed folder")
	traced.Critical("Stopping")

	if !strings.Contains(a.String(), "tick=abcdef12 Listed folder") || !strings.Contains(a.String(), "Stopping") {
		t.Errorf("first logger got %q", a.String())
	}
	if strings.Contains(b.String(), "Listed folder") || !strings.Contains(b.String(), "tick=abcdef12 Stopping") {
		t.Errorf("second logger got %q", b.String())
	}

	multi.SetLevel(CRITICAL)
	a.Reset()
	multi.Error("quiet now")
	if a.Len() != 0 {
		t.Errorf("SetLevel not propagated: %q", a.String())
	}
}

func TestMultiLogger_CloseJoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	multi := NewMultiLogger(&closeErrLogger{err: errA}, NewNoOpLogger(), &closeErrLogger{err: errB})

	err := multi.Close()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Close() = %v, want both errors", err)
	}
	if NewMultiLogger(NewNoOpLogger()).Close() != nil {
		t.Error("Close() with no failures should be nil")
	}
}
