// Package logging is the structured logger shared by the token engine and
// the CLI. Entries go to stderr unless LOG_FILE is set: stdout carries
// command output such as a bare token, and a log line there would corrupt
// it for scripts. Messages and fields pass through the redactor before they
// are encoded, and the server name and attempt id of an acquisition travel
// in the context.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
)

// LogLevel orders entries by severity
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Output encodings accepted in LOG_FORMAT
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field is one structured key/value. Values whose key looks like a secret
// are replaced on output.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is what the manager, the providers and the CLI log through.
// Error takes the failure separately so it is redacted and keyed as "error".
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// LogConfig selects level, encoding and destination. A nil Output means stderr.
type LogConfig struct {
	Level  LogLevel
	Output io.Writer
	Format string
	Name   string
}

// ParseLevel reads LOG_LEVEL values. Anything unrecognised is info.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// ParseFormat reads LOG_FORMAT values. Empty or unknown is json, which is
// what log shippers in front of the token engine expect.
func ParseFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), FormatConsole) {
		return FormatConsole
	}
	return FormatJSON
}

// DefaultLogConfig reads LOG_LEVEL and LOG_FORMAT from the environment
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  ParseLevel(os.Getenv("LOG_LEVEL")),
		Format: ParseFormat(os.Getenv("LOG_FORMAT")),
	}
}

var (
	globalLogger Logger
	globalMu     sync.RWMutex
	initOnce     sync.Once
)

func initialize() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewDefaultLogger()
	}
}

// SetGlobalLogger replaces the logger used by components built without one
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process logger, building it from the
// environment on first use
func GetGlobalLogger() Logger {
	initOnce.Do(initialize)
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Error logs through the global logger. Used during bootstrap before an
// App exists to carry its own logger.
func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}
