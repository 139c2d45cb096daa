package audit

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the interface for audit sinks.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events.
	Close() error
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }

// MemoryLogger keeps events in memory. Intended for tests and for small
// deployments that only need recent history.
type MemoryLogger struct {
	mu       sync.RWMutex
	events   []*Event
	capacity int
}

// NewMemoryLogger creates a memory logger keeping at most capacity events.
// capacity <= 0 means unbounded.
func NewMemoryLogger(capacity int) *MemoryLogger {
	return &MemoryLogger{capacity: capacity}
}

// Log records the event, evicting the oldest entry when over capacity.
func (l *MemoryLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	if l.capacity > 0 && len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}
	return nil
}

// Close is a no-op.
func (l *MemoryLogger) Close() error { return nil }

// Search returns recorded events matching the filter, oldest first.
func (l *MemoryLogger) Search(filter SearchFilter) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Event
	for _, e := range l.events {
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Len returns the number of recorded events.
func (l *MemoryLogger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// LogrusLogger writes events to the structured log.
type LogrusLogger struct {
	log *logrus.Logger
}

// NewLogrusLogger creates a logger writing to log.
func NewLogrusLogger(log *logrus.Logger) *LogrusLogger {
	if log == nil {
		log = logrus.New()
	}
	return &LogrusLogger{log: log}
}

// Log writes the event as a structured log line.
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	entry := l.log.WithFields(logrus.Fields{
		"audit_id":   event.ID,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	})
	if event.Principal != "" {
		entry = entry.WithField("principal", event.Principal)
	}
	if event.Object != "" {
		entry = entry.WithField("object", event.Object)
	}
	if len(event.Permissions) > 0 {
		entry = entry.WithField("permissions", event.Permissions)
	}
	if event.ErrorMessage != "" {
		entry = entry.WithField("error", event.ErrorMessage)
	}
	switch event.Status {
	case EventStatusFailure:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
	return nil
}

// Close is a no-op.
func (l *LogrusLogger) Close() error { return nil }

// MultiLogger fans events out to several sinks. The first error is returned
// but every sink still receives the event.
type MultiLogger []Logger

// Log delivers the event to each sink in order.
func (m MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, l := range m {
		if err := l.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink.
func (m MultiLogger) Close() error {
	var firstErr error
	for _, l := range m {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
