// Package logging provides structured JSON logging for bridge components.
// Events go to stderr: stdout carries the bridge protocol.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Session   string                 `json:"session,omitempty"`
	Command   string                 `json:"command,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

var (
	outMu    sync.Mutex
	out      io.Writer = os.Stderr
	minLevel           = LevelInfo
)

// SetOutput redirects every logger (for testing). nil restores stderr.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

// SetLevel sets the minimum level written. Unknown names leave it unchanged.
func SetLevel(name string) {
	l := Level(name)
	if _, ok := levelRank[l]; !ok {
		return
	}
	outMu.Lock()
	defer outMu.Unlock()
	minLevel = l
}

// Logger provides structured logging
type Logger struct {
	component string
	session   string
	command   string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithSession sets the session context
func (l *Logger) WithSession(session string) *Logger {
	return &Logger{
		component: l.component,
		session:   session,
		command:   l.command,
	}
}

// WithCommand sets the command correlation id
func (l *Logger) WithCommand(command string) *Logger {
	return &Logger{
		component: l.component,
		session:   l.session,
		command:   command,
	}
}

func (l *Logger) write(e Event) {
	outMu.Lock()
	defer outMu.Unlock()
	if levelRank[e.Level] < levelRank[minLevel] {
		return
	}
	data, _ := json.Marshal(e)
	fmt.Fprintln(out, string(data))
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Session:   l.session,
		Command:   l.command,
		Extra:     extra,
	}

	if err != nil {
		e.Error = err.Error()
	}

	l.write(e)
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	l.write(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     LevelInfo,
		Component: l.component,
		Event:     event,
		Session:   l.session,
		Command:   l.command,
		Duration:  time.Since(start).Milliseconds(),
		Extra:     extra,
	})
}

// Attempt runs a best-effort operation. A failure is logged at warn level
// and swallowed; the caller always continues. Panics are recovered too.
// It reports whether op succeeded.
func Attempt(l *Logger, op string, fn func() error) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			l.Warn("attempt_panicked", map[string]interface{}{"op": op}, fmt.Errorf("%v", rec))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		l.Warn("attempt_failed", map[string]interface{}{"op": op}, err)
		return false
	}
	return true
}
