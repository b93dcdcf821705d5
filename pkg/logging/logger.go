package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is the main logger type. It has the property that it still functions
// if nil, but it doesn't log anything. It wraps the standard library's log
// package and adds level filtering and hierarchical prefixes, so component
// loggers created via Sublogger can be silenced independently of the root
// logger's destination. It is safe for concurrent use.
type Logger struct {
	// prefix is any prefix specified for the logger.
	prefix string
	// level is the maximum level that will be logged.
	level Level
	// output is the underlying standard library logger.
	output *log.Logger
}

// NewLogger creates a new root logger that writes to writer at the specified
// level. If writer is nil, os.Stderr is used.
func NewLogger(level Level, writer io.Writer) *Logger {
	if writer == nil {
		writer = os.Stderr
	}
	return &Logger{
		level:  level,
		output: log.New(writer, "", log.LstdFlags),
	}
}

// RootLogger is the root logger from which all other loggers derive when no
// explicit logger has been constructed. It logs at LevelInfo to stderr.
var RootLogger = NewLogger(LevelInfo, os.Stderr)

// Sublogger creates a new sublogger with the specified name. It inherits the
// parent's level and destination.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}

	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}

	return &Logger{
		prefix: prefix,
		level:  l.level,
		output: l.output,
	}
}

// line formats a log line with the logger's prefix, if any.
func (l *Logger) line(level, text string) string {
	if l.prefix != "" {
		return fmt.Sprintf("[%s] %s: %s", l.prefix, level, text)
	}
	return fmt.Sprintf("%s: %s", level, text)
}

func (l *Logger) log(level Level, name, text string) {
	if l == nil || l.level < level {
		return
	}
	l.output.Output(3, l.line(name, text))
}

// Trace logs low-level execution information.
func (l *Logger) Trace(v ...interface{}) { l.log(LevelTrace, "TRACE", fmt.Sprint(v...)) }

// Tracef logs low-level execution information with Printf semantics.
func (l *Logger) Tracef(format string, v ...interface{}) {
	l.log(LevelTrace, "TRACE", fmt.Sprintf(format, v...))
}

// Debug logs advanced execution information.
func (l *Logger) Debug(v ...interface{}) { l.log(LevelDebug, "DEBUG", fmt.Sprint(v...)) }

// Debugf logs advanced execution information with Printf semantics.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.log(LevelDebug, "DEBUG", fmt.Sprintf(format, v...))
}

// Info logs basic execution information.
func (l *Logger) Info(v ...interface{}) { l.log(LevelInfo, "INFO", fmt.Sprint(v...)) }

// Infof logs basic execution information with Printf semantics.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.log(LevelInfo, "INFO", fmt.Sprintf(format, v...))
}

// Warning logs a non-fatal error.
func (l *Logger) Warning(v ...interface{}) { l.log(LevelWarn, "WARN", fmt.Sprint(v...)) }

// Warningf logs a non-fatal error with Printf semantics.
func (l *Logger) Warningf(format string, v ...interface{}) {
	l.log(LevelWarn, "WARN", fmt.Sprintf(format, v...))
}

// Warnf is an alias for Warningf, matching the spelling used by pkg/must.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.log(LevelWarn, "WARN", fmt.Sprintf(format, v...))
}

// Error logs a fatal error.
func (l *Logger) Error(err error) { l.log(LevelError, "ERROR", err.Error()) }

// Errorf logs a fatal error with Printf semantics.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.log(LevelError, "ERROR", fmt.Sprintf(format, v...))
}
