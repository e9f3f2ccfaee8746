// Package logging provides structured logging for WorkTrail.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/term"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) Color() string {
	switch l {
	case DEBUG:
		return "\033[36m" // Cyan
	case INFO:
		return "\033[32m" // Green
	case WARN:
		return "\033[33m" // Yellow
	case ERROR:
		return "\033[31m" // Red
	default:
		return "\033[0m"
	}
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Format selects the line encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configure a root logger.
type Options struct {
	Level  Level
	Format Format
	Output io.Writer
	// Color forces ANSI colors on or off; nil detects a terminal.
	Color *bool
}

// sink is shared by a root logger and everything derived from it.
type sink struct {
	mu     sync.Mutex
	level  Level
	format Format
	output io.Writer
	color  bool
	once   map[string]struct{}
}

// Logger is a structured logger
type Logger struct {
	sink   *sink
	fields map[string]interface{}
}

// New creates a root logger.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	format := opts.Format
	if format == "" {
		format = FormatText
	}
	color := isTerminal(out)
	if opts.Color != nil {
		color = *opts.Color
	}
	return &Logger{
		sink: &sink{
			level:  opts.Level,
			format: format,
			output: out,
			color:  color && format == FormatText,
			once:   make(map[string]struct{}),
		},
		fields: make(map[string]interface{}),
	}
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	return New(Options{Level: ERROR + 1, Output: io.Discard})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var defaultLogger = New(Options{Level: INFO, Output: os.Stdout})

// Default returns the process default logger.
func Default() *Logger {
	return defaultLogger
}

// SetDefault replaces the process default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// SetOutput sets the output writer
func SetOutput(w io.Writer) {
	defaultLogger.sink.mu.Lock()
	defaultLogger.sink.output = w
	defaultLogger.sink.mu.Unlock()
}

// WithField returns a logger with a field added
func WithField(key string, value interface{}) *Logger {
	return defaultLogger.WithField(key, value)
}

// WithFields returns a logger with multiple fields added
func WithFields(fields map[string]interface{}) *Logger {
	return defaultLogger.WithFields(fields)
}

// SetLevel changes the level of this logger and every logger sharing its sink.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.level = level
	l.sink.mu.Unlock()
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields adds multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newLogger := &Logger{
		sink:   l.sink,
		fields: make(map[string]interface{}, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	for k, v := range fields {
		newLogger.fields[k] = v
	}
	return newLogger
}

// Component is shorthand for WithField("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.level {
		return
	}

	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}

	if s.format == FormatJSON {
		entry := map[string]interface{}{
			"time":    time.Now().Format(time.RFC3339),
			"level":   level.String(),
			"message": formatted,
		}
		if len(l.fields) > 0 {
			entry["fields"] = l.fields
		}
		data, err := sonic.Marshal(entry)
		if err != nil {
			fmt.Fprintf(s.output, "{\"level\":\"ERROR\",\"message\":%q}\n", err.Error())
			return
		}
		s.output.Write(append(data, '\n'))
		return
	}

	timestamp := time.Now().Format("15:04:05")

	// Build fields string
	var fieldsStr string
	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fieldsStr = " |"
		for _, k := range keys {
			fieldsStr += fmt.Sprintf(" %s=%v", k, l.fields[k])
		}
	}

	if s.color {
		fmt.Fprintf(s.output, "%s %s[%s]\033[0m %s%s\n",
			timestamp, level.Color(), level.String(), formatted, fieldsStr)
		return
	}
	fmt.Fprintf(s.output, "%s [%s] %s%s\n", timestamp, level.String(), formatted, fieldsStr)
}

// WarnOnce logs at WARN the first time key is seen by this logger's sink.
func (l *Logger) WarnOnce(key, msg string, args ...interface{}) {
	l.sink.mu.Lock()
	_, seen := l.sink.once[key]
	if !seen {
		l.sink.once[key] = struct{}{}
	}
	l.sink.mu.Unlock()
	if !seen {
		l.log(WARN, msg, args...)
	}
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	defaultLogger.log(DEBUG, msg, args...)
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	defaultLogger.log(INFO, msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	defaultLogger.log(WARN, msg, args...)
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	defaultLogger.log(ERROR, msg, args...)
}

// Logger methods
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }
