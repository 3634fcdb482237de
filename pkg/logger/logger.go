package logger

import (
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel constants
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

var levelOrder = []string{LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug, LogLevelTrace}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`    // Megabytes before the file is rotated
	MaxAge     int    `yaml:"max_age"`     // Days to keep rotated files
	MaxBackups int    `yaml:"max_backups"` // Rotated files to keep (0 keeps all)
}

// Global logging configuration
var GlobalLogging *LoggingConfig

// Logger wraps the standard logger with verbosity levels
type Logger struct {
	*log.Logger
	level string
	out   io.Writer
}

// NewLogger creates a new logger with verbosity level.
// A configured file is written through lumberjack so it rotates on max_size.
func NewLogger(config *LoggingConfig) *Logger {
	level := strings.ToLower(config.Level)
	if level == "" {
		level = LogLevelInfo
	}

	logger := &Logger{
		Logger: log.New(newOutput(config), "", log.LstdFlags|log.Lshortfile),
		level:  level,
	}
	logger.out = logger.Writer()

	GlobalLogging = config
	return logger
}

func newOutput(config *LoggingConfig) io.Writer {
	if config.File == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxSize,
		MaxAge:     config.MaxAge,
		MaxBackups: config.MaxBackups,
	}
}

// Setup installs config as the global logging configuration and routes the
// standard library logger (used by the LogX helpers) to the configured output.
func Setup(config *LoggingConfig) {
	GlobalLogging = config
	log.SetOutput(newOutput(config))
}

// Close releases the rotating file handle if one was opened.
func (l *Logger) Close() error {
	if c, ok := l.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// shouldLog checks if a message should be logged based on current level
func shouldLog(currentLevel, messageLevel string) bool {
	currentIndex := -1
	messageIndex := -1

	for i, level := range levelOrder {
		if level == currentLevel {
			currentIndex = i
		}
		if level == messageLevel {
			messageIndex = i
		}
	}

	// Unknown levels let everything through
	if currentIndex == -1 || messageIndex == -1 {
		return true
	}

	return messageIndex <= currentIndex
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelError) {
		l.Printf("❌ "+format, args...)
	}
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelWarn) {
		l.Printf("⚠️ "+format, args...)
	}
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelInfo) {
		l.Printf("ℹ️ "+format, args...)
	}
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelDebug) {
		l.Printf("🔧 "+format, args...)
	}
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelTrace) {
		l.Printf("🔍 "+format, args...)
	}
}

// LogStartup logs startup messages that should always be visible regardless of log level
func LogStartup(format string, args ...interface{}) {
	log.Printf("🔧 "+format, args...)
}

func globalEnabled(level string) bool {
	return GlobalLogging != nil && shouldLog(strings.ToLower(GlobalLogging.Level), level)
}

// Helper functions for global logging
func LogError(format string, args ...interface{}) {
	if globalEnabled(LogLevelError) {
		log.Printf("❌ "+format, args...)
	}
}

func LogWarn(format string, args ...interface{}) {
	if globalEnabled(LogLevelWarn) {
		log.Printf("⚠️ "+format, args...)
	}
}

func LogInfo(format string, args ...interface{}) {
	if globalEnabled(LogLevelInfo) {
		log.Printf("ℹ️ "+format, args...)
	}
}

func LogDebug(format string, args ...interface{}) {
	if globalEnabled(LogLevelDebug) {
		log.Printf("🔧 "+format, args...)
	}
}

func LogTrace(format string, args ...interface{}) {
	if globalEnabled(LogLevelTrace) {
		log.Printf("🔍 "+format, args...)
	}
}

// IsDebugEnabled checks if debug logging is enabled
func IsDebugEnabled() bool {
	return globalEnabled(LogLevelDebug)
}

// IsTraceEnabled checks if trace logging is enabled
func IsTraceEnabled() bool {
	return globalEnabled(LogLevelTrace)
}
