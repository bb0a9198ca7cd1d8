// Package logger holds the process root logger. Components that live for the
// whole process get a named child via Named; request-scoped code such as
// middleware uses the package-level helpers.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Options controls how the root logger is built
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // "json" or anything else for text
	Colors bool
}

var (
	mu   sync.RWMutex
	root hclog.Logger = hclog.New(&hclog.LoggerOptions{
		Name:   "vodforge",
		Level:  hclog.Info,
		Output: os.Stderr,
	})
)

// Configure replaces the root logger and returns it.
func Configure(opts Options) hclog.Logger {
	color := hclog.ColorOff
	if opts.Colors {
		color = hclog.AutoColor
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:       "vodforge",
		Level:      ParseLevel(opts.Level),
		JSONFormat: strings.EqualFold(opts.Format, "json"),
		Color:      color,
		Output:     os.Stderr,
	})

	mu.Lock()
	root = l
	mu.Unlock()
	return l
}

// Set installs l as the root logger; tests use it with hclog.NewNullLogger.
func Set(l hclog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
}

// Get returns the root logger.
func Get() hclog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Named returns a child of the root logger.
func Named(name string) hclog.Logger {
	return Get().Named(name)
}

// SetLevel changes the root logger level in place.
func SetLevel(level string) {
	Get().SetLevel(ParseLevel(level))
}

// ParseLevel maps a level name to an hclog level, defaulting to info.
func ParseLevel(level string) hclog.Level {
	l := hclog.LevelFromString(strings.TrimSpace(level))
	if l == hclog.NoLevel {
		return hclog.Info
	}
	return l
}

// Info logs informational messages with key/value pairs
func Info(msg string, args ...interface{}) {
	Get().Info(msg, args...)
}

// Warn logs warning messages
func Warn(msg string, args ...interface{}) {
	Get().Warn(msg, args...)
}

// Error logs error messages
func Error(msg string, args ...interface{}) {
	Get().Error(msg, args...)
}

// Debug logs debug messages
func Debug(msg string, args ...interface{}) {
	Get().Debug(msg, args...)
}
