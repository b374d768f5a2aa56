// Package logging provides the leveled, component-scoped logger used across
// cargo-task. Lines look like:
//
//	2026-01-02T15:04:05Z INFO sandbox: forwarding env var GREETING
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel maps a config value to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgCyan),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

type sink struct {
	mu     sync.Mutex
	logger *log.Logger
	level  Level
	color  bool
	now    func() time.Time
}

// Logger writes leveled lines for one component. Loggers derived with
// Component share the parent's writer and level.
type Logger struct {
	sink      *sink
	component string
}

// New returns a logger writing to w. Level tags are colored only when w is
// a terminal.
func New(w io.Writer, level Level) *Logger {
	return &Logger{sink: &sink{
		logger: log.New(w, "", 0),
		level:  level,
		color:  isTerminal(w),
		now:    time.Now,
	}}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LevelError+1)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (l *Logger) Component(name string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sink: l.sink, component: name}
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.sink.level
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func (l *Logger) log(level Level, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	s := l.sink
	levelStr := level.String()
	if s.color {
		levelStr = levelColors[level].Sprint(levelStr)
	}
	msg := fmt.Sprintf(format, args...)
	component := l.component
	if component == "" {
		component = "cargo-task"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Printf("%s %s %s: %s", s.now().UTC().Format(time.RFC3339), levelStr, component, msg)
}
