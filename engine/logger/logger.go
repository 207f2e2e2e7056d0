// Package logger provides the process-wide structured logger used by every engine package.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	once      sync.Once
	singleton *log.Logger
)

func get() *log.Logger {
	once.Do(func() {
		singleton = log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          "lumen",
		})
		singleton.SetLevel(log.InfoLevel)
	})
	return singleton
}

// SetLevel sets the minimum level that is written, by name ("debug", "info", "warn", "error", "fatal").
//
// Parameters:
//   - level: the level name, case-insensitive
//
// Returns:
//   - error: an error if the level name is not recognized
func SetLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	get().SetLevel(lvl)
	return nil
}

// SetOutput redirects log output, primarily so tests can capture or silence it.
//
// Parameters:
//   - w: the destination writer
func SetOutput(w io.Writer) {
	get().SetOutput(w)
}

func Debug(msg string, args ...any) {
	l := get()
	l.Helper()
	l.Debugf(msg, args...)
}

func Info(msg string, args ...any) {
	l := get()
	l.Helper()
	l.Infof(msg, args...)
}

func Warn(msg string, args ...any) {
	l := get()
	l.Helper()
	l.Warnf(msg, args...)
}

func Error(msg string, args ...any) {
	l := get()
	l.Helper()
	l.Errorf(msg, args...)
}

// Fatal logs at fatal level and exits the process.
func Fatal(msg string, args ...any) {
	l := get()
	l.Helper()
	l.Fatalf(msg, args...)
}
