// Package console prints the timestamped, descriptor-tagged log lines that
// poacher writes to the terminal.
//
// Every line has the form
//
//	[01-02-2006 15:04:05.000] [0:12:34] poacher:> message
//
// where the second bracket is the process uptime. Log lines are only shown
// in verbose mode; Write, Warn and Error lines are always shown.
package console

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// DefaultDesc is the descriptor used for engine messages.
const DefaultDesc = "poacher"

const timestampLayout = "01-02-2006 15:04:05.000"

type core struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	start   time.Time
	now     func() time.Time
}

// Logger writes console lines. Loggers derived with With share the output
// and the uptime origin of their parent.
type Logger struct {
	c    *core
	desc string
}

// New creates a logger writing to out. A nil out means os.Stdout.
func New(out io.Writer, verbose bool) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		c: &core{
			out:     out,
			verbose: verbose,
			start:   time.Now(),
			now:     time.Now,
		},
		desc: DefaultDesc,
	}
}

// Discard returns a logger that drops everything (tests, dry runs).
func Discard() *Logger {
	return New(io.Discard, false)
}

// With returns a logger tagging lines with desc. A file extension is
// dropped so handler file names read naturally.
func (l *Logger) With(desc string) *Logger {
	desc = strings.TrimSuffix(desc, filepath.Ext(desc))
	if desc == "" {
		desc = DefaultDesc
	}
	return &Logger{c: l.c, desc: desc}
}

// Verbose reports whether Log lines are shown.
func (l *Logger) Verbose() bool {
	return l.c.verbose
}

// Log prints a message only in verbose mode.
func (l *Logger) Log(format string, args ...interface{}) {
	if !l.c.verbose {
		return
	}
	l.emit(nil, format, args...)
}

// Write prints a message regardless of verbosity.
func (l *Logger) Write(format string, args ...interface{}) {
	l.emit(nil, format, args...)
}

// Warn prints a highlighted message regardless of verbosity.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(color.New(color.FgYellow), format, args...)
}

// Error prints a highlighted message regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(color.New(color.FgRed), format, args...)
}

// Success prints a green message regardless of verbosity.
func (l *Logger) Success(format string, args ...interface{}) {
	l.emit(color.New(color.FgGreen), format, args...)
}

func (l *Logger) emit(c *color.Color, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	l.c.mu.Lock()
	defer l.c.mu.Unlock()

	now := l.c.now()
	gray := color.New(color.FgHiBlack)
	prefix := gray.Sprintf("[%s] [%s]", Timestamp(now), Walltime(now.Sub(l.c.start), true))
	desc := color.New(color.FgCyan).Sprint(l.desc)

	for _, line := range strings.Split(strings.TrimSpace(msg), "\n") {
		if c != nil {
			line = c.Sprint(line)
		}
		fmt.Fprintf(l.c.out, "%s %s:> %s\n", prefix, desc, line)
	}
}

// Timestamp formats t the way every console line starts.
func Timestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// Walltime renders a duration either compactly ("1:02:03") or in words
// ("1 hours, 2 minutes, 3 seconds"). Zero units are omitted from the long
// form.
func Walltime(d time.Duration, compact bool) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	if compact {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}

	var parts []string
	if h != 0 {
		parts = append(parts, fmt.Sprintf("%d hours", h))
	}
	if m != 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", m))
	}
	if s != 0 {
		parts = append(parts, fmt.Sprintf("%d seconds", s))
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, ", ")
}
