// Package logging provides leveled logging to stderr. Stdout must stay
// clean: on stdio transport it carries the MCP protocol stream.
package logging

import (
	"log"
	"os"
	"strings"
)

// Level controls which messages are emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level. Unknown strings map to
// info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
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

// Logger is a leveled wrapper over the standard logger.
type Logger struct {
	level Level
	out   *log.Logger
}

// New builds a Logger writing to stderr with the given prefix. A bare
// name is wrapped as "[name] " so the prefix never runs into the
// timestamp.
func New(prefix string, level Level) *Logger {
	return &Logger{
		level: level,
		out:   log.New(os.Stderr, normalizePrefix(prefix), log.LstdFlags),
	}
}

func normalizePrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, " ") {
		return prefix
	}
	if strings.HasPrefix(prefix, "[") {
		return prefix + " "
	}
	return "[" + prefix + "] "
}

// Std exposes the underlying standard logger, for components that take
// a *log.Logger.
func (l *Logger) Std() *log.Logger { return l.out }

func (l *Logger) Debugf(format string, args ...any) {
	if l.level <= LevelDebug {
		l.out.Printf("DEBUG "+format, args...)
	}
}

func (l *Logger) Infof(format string, args ...any) {
	if l.level <= LevelInfo {
		l.out.Printf("INFO "+format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	if l.level <= LevelWarn {
		l.out.Printf("WARN "+format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...any) {
	if l.level <= LevelError {
		l.out.Printf("ERROR "+format, args...)
	}
}
