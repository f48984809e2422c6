package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind classifies an event.
type Kind string

const (
	KindFill   Kind = "FILL"
	KindAlert  Kind = "ALERT"
	KindSystem Kind = "SYSTEM"
)

// Event is a user-visible notification.
type Event struct {
	Kind      Kind      `json:"kind"`
	Symbol    string    `json:"symbol,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives events. Publish must not block the caller for long.
type Sink interface {
	Publish(e Event)
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging under the "notify" name.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Publish(e Event) {
	fields := []zap.Field{zap.String("kind", string(e.Kind)), zap.Time("at", e.Timestamp)}
	if e.Symbol != "" {
		fields = append(fields, zap.String("symbol", e.Symbol))
	}
	if e.Kind == KindAlert {
		s.logger.Warn(e.Message, fields...)
		return
	}
	s.logger.Info(e.Message, fields...)
}

// Buffer keeps the most recent events in memory.
type Buffer struct {
	mu     sync.Mutex
	events []Event
	size   int
}

// NewBuffer creates a buffer holding at most size events.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 100
	}
	return &Buffer{size: size}
}

func (b *Buffer) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	if len(b.events) > b.size {
		b.events = append([]Event(nil), b.events[len(b.events)-b.size:]...)
	}
}

// Recent returns up to n events, newest last. n <= 0 returns all of them.
func (b *Buffer) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.events) {
		n = len(b.events)
	}
	return append([]Event(nil), b.events[len(b.events)-n:]...)
}
