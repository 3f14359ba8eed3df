package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/killallgit/tokenstream/pkg/config"
	"github.com/sirupsen/logrus"
)

// Logger provides a unified logging interface
type Logger struct {
	base        *logrus.Logger
	file        *os.File
	initialized bool
}

var (
	defaultLogger atomic.Pointer[Logger]
	discard       = newDiscard()
)

// Init initializes the logger with configuration from global config
func Init() error {
	if l := defaultLogger.Load(); l != nil && l.initialized {
		return nil
	}

	settings := config.Get()
	l, err := New(settings.Logging.Level, settings.Logging.LogFile, settings.Logging.Preserve)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defaultLogger.Store(l)
	return nil
}

// New creates a Logger writing to logFile. Relative paths resolve against the settings directory.
func New(level, logFile string, preserve bool) (*Logger, error) {
	logPath := logFile
	if !filepath.IsAbs(logPath) {
		logPath = config.BuildSettingsPath(filepath.Base(logPath))
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if preserve {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(logPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWithWriter(file, level)
	l.file = file
	return l, nil
}

// NewWithWriter creates a Logger writing text records to w
func NewWithWriter(w io.Writer, level string) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(ParseLevel(level))
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return &Logger{base: base, initialized: true}
}

func newDiscard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.PanicLevel)
	return &Logger{base: base}
}

// ParseLevel converts a level name, defaulting to info
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.base.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.base.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.base.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.base.Errorf(format, args...)
}

// Package-level convenience functions using the default logger

func current() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return discard
}

func Debug(format string, args ...interface{}) {
	current().Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	current().Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	current().Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	current().Error(format, args...)
}

// SetDefault replaces the package logger. Passing nil restores the discarding logger.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// SetOutput sets the output writer for the logger (useful for testing)
func SetOutput(w io.Writer) {
	if l := defaultLogger.Load(); l != nil {
		l.base.SetOutput(w)
	}
}

// Close closes the default logger
func Close() error {
	if l := defaultLogger.Swap(nil); l != nil {
		return l.Close()
	}
	return nil
}
