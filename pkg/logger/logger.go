package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes zerolog entries and feeds errors to an optional collector.
type Logger struct {
	zl   zerolog.Logger
	sink *collectorSink
}

// collectorSink is shared by a logger and every child made with With, so a collector
// attached later still sees the children's errors.
type collectorSink struct {
	mu sync.RWMutex
	c  *LogCollector
}

func (s *collectorSink) load() *LogCollector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c
}

func (s *collectorSink) replace(c *LogCollector) *LogCollector {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.c
	s.c = c
	return old
}

// Config selects the level (debug, info, warn, error), the format (json or console) and
// the output (stdout, stderr or a file path).
type Config struct {
	Level      string
	Format     string
	Output     string
	TimeFormat string
}

// New builds a logger from cfg. A nil cfg logs JSON at info level to stdout.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = zerolog.ParseLevel(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var out io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	return NewWithWriter(out, level, cfg.Format, cfg.TimeFormat), nil
}

// NewWithWriter builds a logger on w.
func NewWithWriter(w io.Writer, level zerolog.Level, format, timeFormat string) *Logger {
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	}

	zl := zerolog.New(w).Level(level).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
	return &Logger{zl: zl, sink: &collectorSink{}}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), sink: &collectorSink{}}
}

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Logger{zl: ctx.Logger(), sink: l.sink}
}

func (l *Logger) Debug(msg string, fields ...Field) { write(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { write(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) { write(l.zl.Warn(), msg, fields) }

// Error also hands the entry to the collector, if one is attached.
func (l *Logger) Error(msg string, fields ...Field) {
	write(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func write(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		if f.add != nil {
			f.add(e)
		}
	}
	e.Msg(msg)
}

func (l *Logger) collect(level, msg string, fields []Field) {
	c := l.sink.load()
	if c == nil {
		return
	}

	// collect <- Error <- caller
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
	}

	values := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		values[f.Key] = f.Value
	}
	c.AddLog(level, msg, values, caller)
}

// AddCollector starts aggregating the errors of this logger and all its children. A
// previous collector is flushed and stopped.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if old := l.sink.replace(NewLogCollector(config)); old != nil {
		old.Close()
	}
}

// RemoveCollector flushes and stops the collector.
func (l *Logger) RemoveCollector() {
	if old := l.sink.replace(nil); old != nil {
		old.Close()
	}
}
