package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const rotateStampLayout = "20060102T150405.000000000"

// fileSink is shared by a FileLogger and its traced copies so a rotation in
// one copy never leaves another writing to a closed handle.
type fileSink struct {
	mu         sync.Mutex
	fs         afero.Fs
	file       afero.File
	path       string
	level      LogLevel
	maxSize    int64
	maxBackups int
	size       int64
	redact     bool
	now        func() time.Time
}

// FileLogger appends JSON lines (see LogEntry) to a file and rotates it by size
type FileLogger struct {
	sink    *fileSink
	traceID string
}

// FileLoggerConfig configures NewFileLogger
type FileLoggerConfig struct {
	// Fs defaults to the OS filesystem.
	Fs       afero.Fs
	FilePath string
	Level    LogLevel
	// MaxFileSize in bytes; 0 disables rotation.
	MaxFileSize int64
	// MaxBackups caps rotated files kept next to FilePath; 0 keeps all.
	MaxBackups      int
	RedactSensitive bool
}

// NewFileLogger opens (or creates) the log file for appending
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.Fs == nil {
		config.Fs = afero.NewOsFs()
	}
	if err := config.Fs.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	s := &fileSink{
		fs:         config.Fs,
		path:       config.FilePath,
		level:      config.Level,
		maxSize:    config.MaxFileSize,
		maxBackups: config.MaxBackups,
		redact:     config.RedactSensitive,
		now:        time.Now,
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return &FileLogger{sink: s}, nil
}

func (s *fileSink) open() error {
	file, err := s.fs.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	s.file = file
	s.size = info.Size()
	return nil
}

func (l *FileLogger) log(level LogLevel, msg string, fields []Field) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level || s.file == nil {
		return
	}
	if s.maxSize > 0 && s.size >= s.maxSize {
		if err := s.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to rotate log file: %v\n", err)
			if s.file == nil {
				return
			}
		}
	}

	entry := LogEntry{
		Timestamp: s.now().UTC(),
		Level:     level.String(),
		Message:   msg,
		TraceID:   l.traceID,
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields))
		for _, f := range fields {
			entry.Fields[f.Key] = jsonValue(f.Value)
		}
	}
	if s.redact {
		entry.Message = redact(entry.Message)
		for k, v := range entry.Fields {
			if text, ok := v.(string); ok {
				entry.Fields[k] = redact(text)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}
	n, err := s.file.Write(append(data, '\n'))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
		return
	}
	s.size += int64(n)
}

// jsonValue keeps errors readable; encoding/json renders most error types as {}
func jsonValue(v interface{}) interface{} {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}

// rotate moves the current file to <path>.<timestamp>, reopens path and
// prunes old backups. Callers hold s.mu.
func (s *fileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	s.file = nil

	rotated := s.path + "." + s.now().UTC().Format(rotateStampLayout)
	renameErr := s.fs.Rename(s.path, rotated)
	if err := s.open(); err != nil {
		return err
	}
	if renameErr != nil {
		return fmt.Errorf("failed to rename log file: %w", renameErr)
	}
	s.size = 0
	return s.prune()
}

func (s *fileSink) prune() error {
	if s.maxBackups <= 0 {
		return nil
	}
	backups, err := afero.Glob(s.fs, s.path+".*")
	if err != nil {
		return err
	}
	if len(backups) <= s.maxBackups {
		return nil
	}
	// Timestamp suffixes sort chronologically.
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-s.maxBackups] {
		if err := s.fs.Remove(old); err != nil {
			return fmt.Errorf("failed to remove old log file: %w", err)
		}
	}
	return nil
}

func (l *FileLogger) Debug(msg string, fields ...Field)    { l.log(DEBUG, msg, fields) }
func (l *FileLogger) Info(msg string, fields ...Field)     { l.log(INFO, msg, fields) }
func (l *FileLogger) Warn(msg string, fields ...Field)     { l.log(WARN, msg, fields) }
func (l *FileLogger) Error(msg string, fields ...Field)    { l.log(ERROR, msg, fields) }
func (l *FileLogger) Critical(msg string, fields ...Field) { l.log(CRITICAL, msg, fields) }

// WithTraceID returns a logger writing to the same file with the trace ID set
func (l *FileLogger) WithTraceID(traceID string) Logger {
	return &FileLogger{sink: l.sink, traceID: traceID}
}

func (l *FileLogger) WithContext(ctx context.Context) Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.WithTraceID(traceID)
	}
	return l
}

// SetLevel changes the level for this logger and its traced copies
func (l *FileLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// Close closes the log file; later entries are dropped
func (l *FileLogger) Close() error {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
