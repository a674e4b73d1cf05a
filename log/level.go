package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Level defines logging severity. Higher values are more severe.
type Level int8

// Logging level constants.
const (
	// TraceLevel is for per-packet diagnostics.
	TraceLevel Level = iota + 1

	// DebugLevel is for connection internals useful while debugging.
	DebugLevel

	// InfoLevel tracks lifecycle events such as connects and disconnects.
	InfoLevel

	// WarnLevel signals recoverable trouble: timeouts, truncated datagrams, dropped work.
	WarnLevel

	// ErrorLevel is for failed operations.
	ErrorLevel

	// FatalLevel panics after the entry is written.
	FatalLevel
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name. Unknown names map to InfoLevel.
func ParseLevel(levelStr string) Level {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	}
	return InfoLevel
}

// logrusLevel maps the level onto the output engine. Fatal entries are written
// at error severity by logrus and the panic is raised by GameLogger, so logrus
// never calls os.Exit.
func (l Level) logrusLevel() logrus.Level {
	switch l {
	case TraceLevel:
		return logrus.TraceLevel
	case DebugLevel:
		return logrus.DebugLevel
	case InfoLevel:
		return logrus.InfoLevel
	case WarnLevel:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}
