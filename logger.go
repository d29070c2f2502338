package r3

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// LogLevel represents the severity of a log message (higher value = higher severity)
type LogLevel int

const (
	LevelTrace  LogLevel = iota // Detailed tracing (requires enabled + category)
	LevelInfo                   // Informational messages (requires enabled + category)
	LevelDebug                  // Development debugging (requires enabled + category)
	LevelNotice                 // Notable events (always shown)
	LevelWarn                   // Warnings (always shown)
	LevelError                  // Runtime errors (always shown)
	LevelFatal                  // Internal faults (always shown)
)

// LogCategory represents the subsystem generating the message
type LogCategory string

const (
	CatNone     LogCategory = ""         // Uncategorized
	CatMemory   LogCategory = "memory"   // Pools and series buffers
	CatGC       LogCategory = "gc"       // Collector runs and pacing
	CatEval     LogCategory = "eval"     // Evaluator steps and calls
	CatBind     LogCategory = "bind"     // Collecting and binding words
	CatTrap     LogCategory = "trap"     // Recovery points and throws
	CatBoot     LogCategory = "boot"     // Startup sequence
	CatSecurity LogCategory = "security" // Policy checks
	CatTask     LogCategory = "task"     // Spawned tasks
	CatCodec    LogCategory = "codec"    // Codec registry
	CatFFI      LogCategory = "ffi"      // Routine marshalling
	CatHost     LogCategory = "host"     // Host services and ports
)

// allCategories lists every named category
var allCategories = []LogCategory{
	CatMemory, CatGC, CatEval, CatBind, CatTrap, CatBoot,
	CatSecurity, CatTask, CatCodec, CatFFI, CatHost,
}

// ANSI color codes for terminal output
const (
	colorYellow = "\x1b[93m" // Bright yellow foreground
	colorReset  = "\x1b[0m"  // Reset to default
)

// Logger handles diagnostic output for a runtime
type Logger struct {
	enabled           bool
	enabledCategories map[LogCategory]bool
	out               io.Writer
	errOut            io.Writer
	// colorEnabled is true if terminal colors should be used for errOut
	colorEnabled bool
	prefix       string
}

// writerSupportsColor checks whether w is a terminal that supports color output
func writerSupportsColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}

	// Respect NO_COLOR environment variable (https://no-color.org/)
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}

	// Check TERM isn't "dumb" (which doesn't support colors)
	if t := os.Getenv("TERM"); t == "dumb" {
		return false
	}

	return true
}

// NewLogger creates a new logger writing to stdout and stderr
func NewLogger(enabled bool) *Logger {
	return &Logger{
		enabled:           enabled,
		enabledCategories: make(map[LogCategory]bool),
		out:               os.Stdout,
		errOut:            os.Stderr,
		colorEnabled:      writerSupportsColor(os.Stderr),
		prefix:            "r3",
	}
}

// SetOutput redirects debug output and error output
func (l *Logger) SetOutput(out, errOut io.Writer) {
	if out != nil {
		l.out = out
	}
	if errOut != nil {
		l.errOut = errOut
		l.colorEnabled = writerSupportsColor(errOut)
	}
}

// Derive returns a logger with the same outputs and categories and a new
// prefix, for a spawned task
func (l *Logger) Derive(prefix string) *Logger {
	d := *l
	d.enabledCategories = make(map[LogCategory]bool, len(l.enabledCategories))
	for cat, on := range l.enabledCategories {
		d.enabledCategories[cat] = on
	}
	d.prefix = prefix
	return &d
}

// SetPrefix sets the name shown in notice/warn/error prefixes
func (l *Logger) SetPrefix(prefix string) {
	l.prefix = prefix
}

// SetEnabled enables or disables debug logging
func (l *Logger) SetEnabled(enabled bool) {
	l.enabled = enabled
}

// EnableCategory enables debug logging for a specific category
func (l *Logger) EnableCategory(cat LogCategory) {
	l.enabledCategories[cat] = true
}

// DisableCategory disables debug logging for a specific category
func (l *Logger) DisableCategory(cat LogCategory) {
	delete(l.enabledCategories, cat)
}

// EnableAllCategories enables all categories for debug logging
func (l *Logger) EnableAllCategories() {
	for _, cat := range allCategories {
		l.enabledCategories[cat] = true
	}
}

// IsCategoryEnabled checks if a category is enabled
func (l *Logger) IsCategoryEnabled(cat LogCategory) bool {
	return l.enabledCategories[cat]
}

// shouldLog determines if a message should be logged based on level and category
func (l *Logger) shouldLog(level LogLevel, cat LogCategory) bool {
	switch level {
	case LevelFatal, LevelError, LevelWarn, LevelNotice:
		return true // Always shown
	case LevelDebug, LevelInfo, LevelTrace:
		return l.enabled && (cat == CatNone || l.enabledCategories[cat])
	default:
		return false
	}
}

// Log is the unified logging method
func (l *Logger) Log(level LogLevel, cat LogCategory, message string) {
	if l == nil || !l.shouldLog(level, cat) {
		return
	}

	catSuffix := ""
	if cat != CatNone {
		catSuffix = ":" + string(cat)
	}

	var prefix string
	switch level {
	case LevelTrace:
		prefix = fmt.Sprintf("[TRACE%s]", catSuffix)
	case LevelInfo:
		prefix = fmt.Sprintf("[INFO%s]", catSuffix)
	case LevelDebug:
		prefix = fmt.Sprintf("[DEBUG%s]", catSuffix)
	case LevelNotice:
		prefix = fmt.Sprintf("[%s%s NOTICE]", l.prefix, catSuffix)
	case LevelWarn:
		prefix = fmt.Sprintf("[%s%s WARN]", l.prefix, catSuffix)
	case LevelError, LevelFatal:
		prefix = fmt.Sprintf("[%s%s ERROR]", l.prefix, catSuffix)
	}

	output := prefix + " " + message

	// Trace, Info, Debug go to out; Notice, Warn, Error, Fatal go to errOut
	if level <= LevelDebug {
		_, _ = fmt.Fprintln(l.out, output)
		return
	}
	if l.colorEnabled {
		_, _ = fmt.Fprintf(l.errOut, "%s%s%s\n", colorYellow, output, colorReset)
	} else {
		_, _ = fmt.Fprintln(l.errOut, output)
	}
}

// Convenience methods that route through Log
// Ordered by severity: Fatal, Error, Warn, Notice, Debug, Info, Trace

// Fatal logs an internal fault message
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.Log(LevelFatal, CatNone, fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LevelError, CatNone, fmt.Sprintf(format, args...))
}

// ErrorCat logs a categorized error message
func (l *Logger) ErrorCat(cat LogCategory, format string, args ...interface{}) {
	l.Log(LevelError, cat, fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.Log(LevelWarn, CatNone, fmt.Sprintf(format, args...))
}

// WarnCat logs a categorized warning message
func (l *Logger) WarnCat(cat LogCategory, format string, args ...interface{}) {
	l.Log(LevelWarn, cat, fmt.Sprintf(format, args...))
}

// Notice logs a notable event - always shown, less severe than warning
func (l *Logger) Notice(format string, args ...interface{}) {
	l.Log(LevelNotice, CatNone, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(LevelDebug, CatNone, fmt.Sprintf(format, args...))
}

// DebugCat logs a categorized debug message
func (l *Logger) DebugCat(cat LogCategory, format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.Log(LevelDebug, cat, fmt.Sprintf(format, args...))
}

// InfoCat logs a categorized informational message
func (l *Logger) InfoCat(cat LogCategory, format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.Log(LevelInfo, cat, fmt.Sprintf(format, args...))
}

// TraceCat logs a categorized trace message
func (l *Logger) TraceCat(cat LogCategory, format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.Log(LevelTrace, cat, fmt.Sprintf(format, args...))
}
