// Package notice delivers short user-visible messages ("toasts") about
// session and ledger events.
package notice

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultInboxSize is the number of notices an Inbox keeps.
const DefaultInboxSize = 32

// Notice is a transient message for the user.
type Notice struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Sink receives notices.
type Sink interface {
	Notify(n Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

// Notify calls f(n).
func (f SinkFunc) Notify(n Notice) {
	f(n)
}

// Discard drops every notice.
var Discard Sink = SinkFunc(func(Notice) {})

// Inbox buffers notices until a client collects them. When full, the
// oldest notice is dropped.
type Inbox struct {
	mu      sync.Mutex
	size    int
	notices []Notice
}

// NewInbox creates an inbox holding at most size notices.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{size: size}
}

// Notify appends n.
func (b *Inbox) Notify(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.notices) == b.size {
		b.notices = b.notices[1:]
	}
	b.notices = append(b.notices, n)
}

// Drain returns and clears the buffered notices, oldest first.
func (b *Inbox) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.notices
	b.notices = nil
	if out == nil {
		return []Notice{}
	}
	return out
}

// Len returns the number of buffered notices.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notices)
}

// LogSink writes notices to a logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs every notice.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notice").Logger()}
}

// Notify logs n at a level matching its severity.
func (s *LogSink) Notify(n Notice) {
	var ev *zerolog.Event
	switch n.Level {
	case LevelError:
		ev = s.logger.Error()
	case LevelWarning:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Info()
	}
	ev.Str("level_hint", string(n.Level)).
		Str("title", n.Title).
		Msg(n.Message)
}

// Fanout delivers every notice to all sinks in order.
func Fanout(sinks ...Sink) Sink {
	return SinkFunc(func(n Notice) {
		for _, s := range sinks {
			if s != nil {
				s.Notify(n)
			}
		}
	})
}
