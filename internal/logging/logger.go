package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// ParseLevel accepts any case of the level names, plus logrus spellings
func ParseLevel(s string) (LogLevel, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return LogLevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	switch {
	case lvl >= logrus.DebugLevel:
		return LogLevelDebug, nil
	case lvl == logrus.InfoLevel:
		return LogLevelInfo, nil
	case lvl == logrus.WarnLevel:
		return LogLevelWarn, nil
	default:
		return LogLevelError, nil
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

var base = logrus.StandardLogger()

// Setup configures the shared logger. With a logDir, output is also written
// to run_<timestamp>.log inside it; the returned closer releases that file.
func Setup(level LogLevel, logDir string) (io.Closer, error) {
	base.SetLevel(level.logrus())
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if logDir == "" {
		base.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("run_%s.log", time.Now().Format("20060102_150405")))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	base.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return logFile, nil
}

// Logger provides structured logging for one component
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a new logger for a specific component
func NewLogger(component string) *Logger {
	return NewLoggerFrom(base, component)
}

// NewLoggerFrom creates a component logger on an explicit logrus logger
func NewLoggerFrom(l *logrus.Logger, component string) *Logger {
	return &Logger{entry: l.WithField("component", component)}
}

func (l *Logger) log(level logrus.Level, message string, err error, context map[string]interface{}) {
	entry := l.entry
	if len(context) > 0 {
		entry = entry.WithFields(logrus.Fields(context))
	}
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Log(level, message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(logrus.DebugLevel, message, nil, nil)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(message string, context map[string]interface{}) {
	l.log(logrus.DebugLevel, message, nil, context)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(logrus.InfoLevel, message, nil, nil)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(message string, context map[string]interface{}) {
	l.log(logrus.InfoLevel, message, nil, context)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(logrus.WarnLevel, message, nil, nil)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(message string, context map[string]interface{}) {
	l.log(logrus.WarnLevel, message, nil, context)
}

// Error logs an error message
func (l *Logger) Error(message string, err error) {
	l.log(logrus.ErrorLevel, message, err, nil)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(message string, err error, context map[string]interface{}) {
	l.log(logrus.ErrorLevel, message, err, context)
}

// IsDebug reports whether debug messages are emitted, for callers that
// would otherwise build per-frame context maps for nothing
func (l *Logger) IsDebug() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// WithContext returns a log function that includes context
func (l *Logger) WithContext(context map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		logger:  l,
		context: context,
	}
}

// ContextLogger is a logger with pre-set context
type ContextLogger struct {
	logger  *Logger
	context map[string]interface{}
}

// Debug logs a debug message with pre-set context
func (cl *ContextLogger) Debug(message string) {
	cl.logger.log(logrus.DebugLevel, message, nil, cl.context)
}

// Info logs an info message with pre-set context
func (cl *ContextLogger) Info(message string) {
	cl.logger.log(logrus.InfoLevel, message, nil, cl.context)
}

// Warn logs a warning message with pre-set context
func (cl *ContextLogger) Warn(message string) {
	cl.logger.log(logrus.WarnLevel, message, nil, cl.context)
}

// Error logs an error message with pre-set context
func (cl *ContextLogger) Error(message string, err error) {
	cl.logger.log(logrus.ErrorLevel, message, err, cl.context)
}
