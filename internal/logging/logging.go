package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var (
	currentLevel LogLevel
	levelOnce    sync.Once

	levelTags = map[LogLevel]string{
		LevelDebug: color.New(color.FgWhite, color.Italic).Sprint("[DEBUG]"),
		LevelInfo:  color.New(color.FgHiGreen).Sprint("[INFO]"),
		LevelWarn:  color.New(color.FgYellow, color.Bold).Sprint("[WARN]"),
		LevelError: color.New(color.FgHiRed, color.Bold).Sprint("[ERROR]"),
	}
	fatalTag = color.New(color.FgHiRed, color.Bold, color.Underline).Sprint("[FATAL]")
)

func init() {
	// color.NoColor is already true when stdout is not a terminal
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

// ParseLevel converts a level name into a LogLevel. Unknown names map to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// initLevel initializes the log level from environment variables
func initLevel() {
	levelOnce.Do(func() {
		if debug := os.Getenv("DEBUG"); debug != "" {
			switch strings.ToLower(debug) {
			case "1", "true", "yes", "on":
				currentLevel = LevelDebug
				return
			}
		}

		currentLevel = ParseLevel(os.Getenv("LOG_LEVEL"))
	})
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLevel()
	return currentLevel
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func emit(level LogLevel, format string, args ...interface{}) {
	if GetLevel() <= level {
		log.Printf(levelTags[level]+" "+format, args...)
	}
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) {
	emit(LevelDebug, format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	emit(LevelInfo, format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	emit(LevelWarn, format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	emit(LevelError, format, args...)
}

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	log.Fatalf(fatalTag+" "+format, args...)
}

// Printf is a pass-through to log.Printf for messages that should always print
func Printf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

// Println is a pass-through to log.Println for messages that should always print
func Println(args ...interface{}) {
	log.Println(args...)
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}

// Migrations adapts the package logger to the Printf/Fatalf logger shape
// used by the migration runner.
type Migrations struct{}

// Printf logs migration progress at info level.
func (Migrations) Printf(format string, v ...interface{}) {
	Info(strings.TrimSuffix(format, "\n"), v...)
}

// Fatalf logs and exits.
func (Migrations) Fatalf(format string, v ...interface{}) {
	Fatal(strings.TrimSuffix(format, "\n"), v...)
}
