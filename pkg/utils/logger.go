package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LogLevel is the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case level name.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a level name. Unknown names select LevelInfo.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogFormat selects how DefaultLogger renders a line.
type LogFormat int

const (
	// FormatText renders `[timestamp] [LEVEL] k=v message`.
	FormatText LogFormat = iota
	// FormatJSON renders one JSON object per line.
	FormatJSON
)

// ParseLogFormat parses "text" or "json". Anything else selects FormatText.
func ParseLogFormat(format string) LogFormat {
	if strings.EqualFold(format, "json") {
		return FormatJSON
	}
	return FormatText
}

// Logger is the printf-style logging interface shared by the CLI, the service and the
// builder's optional phase reporting.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// sink is shared by a logger and every logger derived from it through WithField.
type sink struct {
	mu     sync.Mutex
	level  LogLevel
	format LogFormat
	output io.Writer
	clock  Clock
}

// DefaultLogger writes leveled lines to an io.Writer.
type DefaultLogger struct {
	sink   *sink
	fields map[string]interface{}
}

// LoggerOption configures a DefaultLogger.
type LoggerOption func(*sink)

// WithFormat selects the line format.
func WithFormat(format LogFormat) LoggerOption {
	return func(s *sink) { s.format = format }
}

// WithLoggerClock replaces the clock used for timestamps.
func WithLoggerClock(clock Clock) LoggerOption {
	return func(s *sink) { s.clock = clock }
}

// NewDefaultLogger creates a logger writing to output.
func NewDefaultLogger(level LogLevel, output io.Writer, opts ...LoggerOption) *DefaultLogger {
	s := &sink{level: level, output: output, clock: NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return &DefaultLogger{sink: s}
}

// NewFileLogger creates a logger appending to the file at logPath.
func NewFileLogger(level LogLevel, logPath string, opts ...LoggerOption) (*DefaultLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return NewDefaultLogger(level, file, opts...), nil
}

// SetLevel changes the level of this logger and every logger derived from it.
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }
func (l *DefaultLogger) Info(msg string, args ...interface{})  { l.log(LevelInfo, msg, args...) }
func (l *DefaultLogger) Warn(msg string, args ...interface{})  { l.log(LevelWarn, msg, args...) }
func (l *DefaultLogger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

// WithField returns a logger that adds key=value to every line.
func (l *DefaultLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger that adds fields to every line.
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &DefaultLogger{sink: l.sink, fields: merged}
}

func (l *DefaultLogger) log(level LogLevel, msg string, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	timestamp := s.clock.Now().Format("2006-01-02 15:04:05.000")
	text := fmt.Sprintf(msg, args...)

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var line []byte
	if s.format == FormatJSON {
		rec := make(map[string]interface{}, len(l.fields)+3)
		for k, v := range l.fields {
			rec[k] = fmt.Sprint(v)
		}
		rec["time"] = timestamp
		rec["level"] = level.String()
		rec["msg"] = text
		line, _ = json.Marshal(rec)
		line = append(line, '\n')
	} else {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[%s] [%s]", timestamp, level)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, l.fields[k])
		}
		sb.WriteByte(' ')
		sb.WriteString(text)
		sb.WriteByte('\n')
		line = []byte(sb.String())
	}
	_, _ = s.output.Write(line)
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NewDefaultLogger(LevelInfo, os.Stderr)
)

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// NullLogger discards everything.
type NullLogger struct{}

func (l *NullLogger) Debug(msg string, args ...interface{})            {}
func (l *NullLogger) Info(msg string, args ...interface{})             {}
func (l *NullLogger) Warn(msg string, args ...interface{})             {}
func (l *NullLogger) Error(msg string, args ...interface{})            {}
func (l *NullLogger) WithField(key string, value interface{}) Logger   { return l }
func (l *NullLogger) WithFields(fields map[string]interface{}) Logger { return l }
