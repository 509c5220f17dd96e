// Package logger is the process-wide structured logger used by mofetch.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields is a type alias for log fields to make the API cleaner
type Fields = logrus.Fields

var (
	logger *logrus.Logger
	mu     sync.Mutex
	output io.Writer = os.Stderr
)

// InitLogger initializes the global logger.
func InitLogger(logLevel string, noColor bool) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(logLevel, noColor)
}

func newLogger(logLevel string, noColor bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(output)

	level, err := logrus.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = logrus.InfoLevel // fallback to info level
	}
	l.SetLevel(level)

	if noColor {
		l.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			ForceColors:   true,
			FullTimestamp: false,
		})
	}
	return l
}

// SetOutput redirects log output, e.g. to a buffer in tests or away from a
// full-screen terminal view. It applies to the current logger and future ones.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// GetLogger returns the configured logger instance
func GetLogger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = newLogger("info", false)
	}
	return logger
}

// Info logs an info message
func Info(msg string, fields ...Fields) {
	GetLogger().WithFields(mergeFields(fields...)).Info(msg)
}

// Debug logs a debug message (only shown when debug level is enabled)
func Debug(msg string, fields ...Fields) {
	GetLogger().WithFields(mergeFields(fields...)).Debug(msg)
}

// Warn logs a warning message
func Warn(msg string, fields ...Fields) {
	GetLogger().WithFields(mergeFields(fields...)).Warn(msg)
}

// Error logs an error message
func Error(msg string, fields ...Fields) {
	GetLogger().WithFields(mergeFields(fields...)).Error(msg)
}

// Success logs a success message as info with success indicator
func Success(msg string, fields ...Fields) {
	merged := mergeFields(fields...)
	merged["status"] = "success"
	GetLogger().WithFields(merged).Info(msg)
}

// mergeFields merges multiple Fields into one
func mergeFields(fields ...Fields) Fields {
	result := make(Fields)
	for _, field := range fields {
		for k, v := range field {
			result[k] = v
		}
	}
	return result
}
