package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Logger wraps charmbracelet/log for styled mirin output.
type Logger struct {
	logger *log.Logger
	out    io.Writer
}

// New creates a new styled Logger writing to stdout.
func New() *Logger {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer) *Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})

	return &Logger{logger: l, out: w}
}

// Discard returns a Logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard)
}

// SetLevel parses level ("debug", "info", "warn", "error") and applies it.
func (l *Logger) SetLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.logger.SetLevel(lvl)
	return nil
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

// Info logs an informational message with optional key-value pairs.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, err error, keyvals ...interface{}) {
	kv := append([]interface{}{"err", err}, keyvals...)
	l.logger.Error(msg, kv...)
}

// BuildStarted logs the start of a build cycle.
func (l *Logger) BuildStarted(id, trigger string, modules []string, all bool) {
	target := strings.Join(modules, ",")
	if all {
		target = "*"
	}
	l.logger.Info("Rebuilding", "build", short(id), "trigger", trigger, "modules", target)
}

// BuildSucceeded logs a published snapshot.
func (l *Logger) BuildSucceeded(id string, nonce uint64, elapsed time.Duration) {
	l.logger.Info("Published", "build", short(id), "nonce", nonce, "took", elapsed.Round(time.Millisecond))
}

// BuildFailed logs a failed cycle. The previous snapshot stays live.
func (l *Logger) BuildFailed(id string, err error, elapsed time.Duration) {
	l.logger.Error("Build failed, keeping previous snapshot", "build", short(id), "err", err, "took", elapsed.Round(time.Millisecond))
}

// Diagnostics prints the last max lines of captured compiler output in a tree-like format.
func (l *Logger) Diagnostics(label string, output []byte, max int) {
	text := strings.TrimRight(string(output), "\n")
	if text == "" {
		return
	}
	lines := strings.Split(text, "\n")
	if max > 0 && len(lines) > max {
		l.logger.Warn(fmt.Sprintf("%s output (last %d of %d lines)", label, max, len(lines)))
		lines = lines[len(lines)-max:]
	} else {
		l.logger.Warn(label + " output")
	}
	for i, line := range lines {
		prefix := "├─"
		if i == len(lines)-1 {
			prefix = "└─"
		}
		fmt.Fprintf(l.out, "  %s %s\n", prefix, line)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
