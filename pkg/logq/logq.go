// Package logq decouples diagnostic logging from time critical code.
// Producers format a message and try a non-blocking send; a single
// goroutine drains the queue to a standard logger.
package logq

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/gofet/pkg/config"
)

// Level is a log severity.
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
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name as written by MarshalText.
func (l *Level) UnmarshalText(text []byte) error {
	lvl, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// ParseLevel parses a level name, ignoring case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Entry is one queued log message.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// Logger is the leveled logging surface the queue provides.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

var (
	_ Logger = (*Queue)(nil)
	_ Logger = stdLogger{}
)

// stdLogger writes synchronously to a standard logger in the queue's format.
type stdLogger struct {
	l *log.Logger
}

// Std returns a Logger printing straight to l, for components used
// without a queue. A nil l uses the standard logger.
func Std(l *log.Logger) Logger {
	if l == nil {
		l = log.Default()
	}
	return stdLogger{l: l}
}

func (s stdLogger) printf(level Level, format string, args []any) {
	s.l.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

func (s stdLogger) Debugf(format string, args ...any) { s.printf(LevelDebug, format, args) }
func (s stdLogger) Infof(format string, args ...any)  { s.printf(LevelInfo, format, args) }
func (s stdLogger) Warnf(format string, args ...any)  { s.printf(LevelWarn, format, args) }
func (s stdLogger) Errorf(format string, args ...any) { s.printf(LevelError, format, args) }

// Queue is a bounded asynchronous log queue.
type Queue struct {
	ch      chan Entry
	sink    *log.Logger
	done    chan struct{}
	debug   atomic.Bool
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool

	recentMu sync.Mutex
	recent   []Entry
	next     int
	full     bool
}

// New starts a queue draining into sink. A nil sink uses the standard logger.
func New(cfg config.LogConfig, sink *log.Logger) *Queue {
	if sink == nil {
		sink = log.Default()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	recent := cfg.Recent
	if recent <= 0 {
		recent = 50
	}

	q := &Queue{
		ch:     make(chan Entry, size),
		sink:   sink,
		done:   make(chan struct{}),
		recent: make([]Entry, recent),
	}
	q.debug.Store(cfg.Debug)

	go q.drain()

	return q
}

func (q *Queue) drain() {
	defer close(q.done)

	for e := range q.ch {
		q.sink.Printf("[%s] %s", e.Level, e.Message)
		q.remember(e)
	}
}

func (q *Queue) remember(e Entry) {
	q.recentMu.Lock()
	defer q.recentMu.Unlock()

	q.recent[q.next] = e
	q.next = (q.next + 1) % len(q.recent)
	if q.next == 0 {
		q.full = true
	}
}

func (q *Queue) enqueue(level Level, format string, args []any) {
	if level == LevelDebug && !q.debug.Load() {
		return
	}

	e := Entry{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		return
	}

	select {
	case q.ch <- e:
	default:
		q.dropped.Add(1)
	}
}

func (q *Queue) Debugf(format string, args ...any) { q.enqueue(LevelDebug, format, args) }
func (q *Queue) Infof(format string, args ...any)  { q.enqueue(LevelInfo, format, args) }
func (q *Queue) Warnf(format string, args ...any)  { q.enqueue(LevelWarn, format, args) }
func (q *Queue) Errorf(format string, args ...any) { q.enqueue(LevelError, format, args) }

// Printf logs at info level.
func (q *Queue) Printf(format string, args ...any) { q.enqueue(LevelInfo, format, args) }

// SetDebug toggles debug level output at runtime.
func (q *Queue) SetDebug(enabled bool) {
	q.debug.Store(enabled)
}

// Debug reports whether debug messages are logged.
func (q *Queue) Debug() bool {
	return q.debug.Load()
}

// Dropped returns the number of messages lost to a full queue.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Recent returns the most recently written entries, oldest first.
func (q *Queue) Recent() []Entry {
	q.recentMu.Lock()
	defer q.recentMu.Unlock()

	if !q.full {
		out := make([]Entry, q.next)
		copy(out, q.recent[:q.next])
		return out
	}

	out := make([]Entry, 0, len(q.recent))
	out = append(out, q.recent[q.next:]...)
	out = append(out, q.recent[:q.next]...)
	return out
}

// Clear forgets the recent entries.
func (q *Queue) Clear() {
	q.recentMu.Lock()
	defer q.recentMu.Unlock()

	clear(q.recent)
	q.next = 0
	q.full = false
}

// Close stops accepting messages and waits until the queue is drained.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	<-q.done
}
