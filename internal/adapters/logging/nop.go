// Package logging provides implementations of the ports.Logger interface:
// a ConsoleLogger for text or JSON lines, a NopLogger for disabled logging,
// and a MemoryLogger that records entries for assertions in tests.
package logging

import (
	"context"
	"strings"
	"sync"

	"github.com/felixgeelhaar/plugman/internal/ports"
)

// NopLogger is a no-op logger that discards all messages.
type NopLogger struct {
	level ports.Level
}

// NewNopLogger creates a new no-op logger.
func NewNopLogger() *NopLogger {
	return &NopLogger{level: ports.LevelInfo}
}

// Debug does nothing.
func (l *NopLogger) Debug(_ context.Context, _ string, _ ...ports.Field) {}

// Info does nothing.
func (l *NopLogger) Info(_ context.Context, _ string, _ ...ports.Field) {}

// Warn does nothing.
func (l *NopLogger) Warn(_ context.Context, _ string, _ ...ports.Field) {}

// Error does nothing.
func (l *NopLogger) Error(_ context.Context, _ string, _ ...ports.Field) {}

// With returns itself.
func (l *NopLogger) With(_ ...ports.Field) ports.Logger {
	return l
}

// Level returns the log level.
func (l *NopLogger) Level() ports.Level {
	return l.level
}

// SetLevel sets the log level.
func (l *NopLogger) SetLevel(level ports.Level) {
	l.level = level
}

// Entry is a single record captured by MemoryLogger.
type Entry struct {
	Level   ports.Level
	Message string
	Fields  []ports.Field
}

// MemoryLogger keeps every entry in memory regardless of level.
type MemoryLogger struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []ports.Field
	level   ports.Level
}

// NewMemoryLogger creates an empty MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{mu: &sync.Mutex{}, entries: &[]Entry{}, level: ports.LevelDebug}
}

// Debug records a debug entry.
func (l *MemoryLogger) Debug(_ context.Context, msg string, fields ...ports.Field) {
	l.record(ports.LevelDebug, msg, fields)
}

// Info records an info entry.
func (l *MemoryLogger) Info(_ context.Context, msg string, fields ...ports.Field) {
	l.record(ports.LevelInfo, msg, fields)
}

// Warn records a warning entry.
func (l *MemoryLogger) Warn(_ context.Context, msg string, fields ...ports.Field) {
	l.record(ports.LevelWarn, msg, fields)
}

// Error records an error entry.
func (l *MemoryLogger) Error(_ context.Context, msg string, fields ...ports.Field) {
	l.record(ports.LevelError, msg, fields)
}

// With returns a logger sharing the same entry buffer.
func (l *MemoryLogger) With(fields ...ports.Field) ports.Logger {
	merged := append(append([]ports.Field(nil), l.fields...), fields...)
	return &MemoryLogger{mu: l.mu, entries: l.entries, fields: merged, level: l.level}
}

// Level returns the log level.
func (l *MemoryLogger) Level() ports.Level {
	return l.level
}

// SetLevel sets the log level.
func (l *MemoryLogger) SetLevel(level ports.Level) {
	l.level = level
}

// Entries returns a copy of the recorded entries.
func (l *MemoryLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(*l.entries))
	copy(out, *l.entries)
	return out
}

// Messages returns the messages recorded at the given level.
func (l *MemoryLogger) Messages(level ports.Level) []string {
	var out []string
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// Contains reports whether any entry at level contains substr.
func (l *MemoryLogger) Contains(level ports.Level, substr string) bool {
	for _, msg := range l.Messages(level) {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func (l *MemoryLogger) record(level ports.Level, msg string, fields []ports.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]ports.Field(nil), l.fields...), fields...)
	*l.entries = append(*l.entries, Entry{Level: level, Message: msg, Fields: all})
}

// Ensure the loggers implement Logger.
var (
	_ ports.Logger = (*NopLogger)(nil)
	_ ports.Logger = (*MemoryLogger)(nil)
)
