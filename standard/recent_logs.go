// Package standard provides the diagnostics sink and connectivity tracker
// every client gets without configuration.
package standard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
)

// Sink receives the loop's diagnostics. Every failure of a poll cycle step
// is reported here instead of being dropped.
type Sink interface {
	Log(level LogLevel, message string, context map[string]any)
}

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

// RecentLogs keeps the last N diagnostics in memory and mirrors each one
// to a slog.Logger.
type RecentLogs struct {
	mu         sync.Mutex
	entries    []LogEntry
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time
}

// NewRecentLogs creates a RecentLogs tracker. A nil logger discards the
// mirror output.
func NewRecentLogs(maxEntries int, logger *slog.Logger) *RecentLogs {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RecentLogs{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
		logger:     logger,
		now:        time.Now,
	}
}

// SetTimeSource replaces the timestamp source (tests use a fake clock).
func (r *RecentLogs) SetTimeSource(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Log adds an entry and writes it to the mirror logger.
func (r *RecentLogs) Log(level LogLevel, message string, fields map[string]any) {
	r.mu.Lock()
	entry := LogEntry{
		Timestamp: r.now().UTC(),
		Level:     level,
		Message:   message,
		Context:   fields,
	}
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}
	logger := r.logger
	r.mu.Unlock()

	attrs := make([]slog.Attr, 0, len(fields))
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	logger.LogAttrs(context.Background(), level.slog(), message, attrs...)
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Error logs an error message with context.
func (r *RecentLogs) Error(message string, context map[string]any) {
	r.Log(LevelError, message, context)
}

// Warn logs a warning message with context.
func (r *RecentLogs) Warn(message string, context map[string]any) {
	r.Log(LevelWarn, message, context)
}

// Info logs an info message with context.
func (r *RecentLogs) Info(message string, context map[string]any) {
	r.Log(LevelInfo, message, context)
}

// Debug logs a debug message with context.
func (r *RecentLogs) Debug(message string, context map[string]any) {
	r.Log(LevelDebug, message, context)
}

// Entries returns a copy of the retained entries, oldest first.
func (r *RecentLogs) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns how many retained entries have the given level.
func (r *RecentLogs) Count(level LogLevel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, entry := range r.entries {
		if entry.Level == level {
			n++
		}
	}
	return n
}

// GetData returns the entries and per-level counts.
func (r *RecentLogs) GetData() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errorCount, warnCount, infoCount, debugCount int
	for _, entry := range r.entries {
		switch entry.Level {
		case LevelError:
			errorCount++
		case LevelWarn:
			warnCount++
		case LevelInfo:
			infoCount++
		case LevelDebug:
			debugCount++
		}
	}

	entries := make([]LogEntry, len(r.entries))
	copy(entries, r.entries)
	return map[string]any{
		"entries": entries,
		"stats": map[string]any{
			"total_count":    len(entries),
			"errors_count":   errorCount,
			"warnings_count": warnCount,
			"info_count":     infoCount,
			"debug_count":    debugCount,
			"max_entries":    r.maxEntries,
		},
	}
}
