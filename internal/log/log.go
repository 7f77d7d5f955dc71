// Package log provides the process-wide logger.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu     sync.RWMutex
	logger Logger = defaultLogger()
)

// GetLogger returns the process logger. Before Init it writes info and above
// to stdout.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the process logger.
func SetLogger(l Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// SetLevel changes the level of the process logger in place, so loggers
// derived from it earlier follow the change.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	a, ok := GetLogger().(*logrusAdapter)
	if !ok {
		return fmt.Errorf("process logger does not support level changes")
	}
	a.entry.Logger.SetLevel(lvl)
	return nil
}

func defaultLogger() Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&formatter{pattern: DefaultPattern, time: DefaultTimeFormat})
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

// NewForTest returns a debug-level logger writing plain pattern lines to w.
func NewForTest(w io.Writer) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&formatter{pattern: "[%level] %field %msg\n", time: DefaultTimeFormat})
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}
