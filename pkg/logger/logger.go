// Package logger is a structured-logging facade over zerolog with an
// optional collector that aggregates repeated error events and ships them
// to an external sink in batches.
package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, encoding and destination for a Logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or a file path
	TimeFormat string // defaults to RFC3339Nano
}

// Logger wraps a zerolog.Logger. Error events are additionally fed to the
// collector when one is attached.
type Logger struct {
	zl        zerolog.Logger
	collector *collector
}

// New builds a Logger from cfg. The level applies process-wide.
func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}

	// Skip count 3 reports the caller of the facade method, not the facade.
	zl := zerolog.New(out).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
	return &Logger{zl: zl}, nil
}

// Nop returns a logger that discards everything. Useful as a default when
// no logger is wired.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func openOutput(dest string) (io.Writer, error) {
	switch dest {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %s: %w", dest, err)
	}
	return f, nil
}

func (l *Logger) Debug(msg string, fields ...Field) {
	e := l.zl.Debug()
	for _, f := range fields {
		f.emit(e)
	}
	e.Msg(msg)
}

func (l *Logger) Info(msg string, fields ...Field) {
	e := l.zl.Info()
	for _, f := range fields {
		f.emit(e)
	}
	e.Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	e := l.zl.Warn()
	for _, f := range fields {
		f.emit(e)
	}
	e.Msg(msg)
}

func (l *Logger) Error(msg string, fields ...Field) {
	e := l.zl.Error()
	for _, f := range fields {
		f.emit(e)
	}
	e.Msg(msg)

	if l.collector != nil {
		l.collector.add("error", msg, fields, callsite(2))
	}
}

// AddCollector attaches an aggregating collector. A previously attached
// collector is flushed and replaced.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if l.collector != nil {
		l.collector.close()
	}
	l.collector = newCollector(cfg)
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.close()
		l.collector = nil
	}
}

// callsite reports file:line of the frame skip levels above, trimmed to the
// repo-relative path.
func callsite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	if i := strings.LastIndex(file, "EdgeLab"); i >= 0 {
		file = file[i+len("EdgeLab"):]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Field is one structured key/value pair attached to a log event.
type Field struct {
	key  string
	val  interface{}
	emit func(*zerolog.Event)
}

func String(key, value string) Field {
	return Field{key: key, val: value, emit: func(e *zerolog.Event) { e.Str(key, value) }}
}

func Int(key string, value int) Field {
	return Field{key: key, val: value, emit: func(e *zerolog.Event) { e.Int(key, value) }}
}

func Int64(key string, value int64) Field {
	return Field{key: key, val: value, emit: func(e *zerolog.Event) { e.Int64(key, value) }}
}

func Bool(key string, value bool) Field {
	return Field{key: key, val: value, emit: func(e *zerolog.Event) { e.Bool(key, value) }}
}

func Error(err error) Field {
	msg := "<nil>"
	if err != nil {
		msg = err.Error()
	}
	return Field{key: "error", val: msg, emit: func(e *zerolog.Event) { e.Err(err) }}
}

func Any(key string, value interface{}) Field {
	return Field{key: key, val: value, emit: func(e *zerolog.Event) { e.Interface(key, value) }}
}

// Duration renders as integer milliseconds.
func Duration(key string, value time.Duration) Field {
	ms := int(value / time.Millisecond)
	return Field{key: key, val: ms, emit: func(e *zerolog.Event) { e.Int(key, ms) }}
}

func Strings(key string, values []string) Field {
	return String(key, strings.Join(values, ","))
}
