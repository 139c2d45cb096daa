package notify

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/acl"
)

// MaterializationChange signals that a cached or materialized downstream
// view may need its permissions corrected.
type MaterializationChange struct {
	ID           string                  `json:"id"`
	Principal    acl.Principal           `json:"principal"`
	ObjectPrefix acl.ObjectRef           `json:"object_prefix"`
	ObjectType   acl.SecurableObjectType `json:"object_type"`
	EmittedAt    time.Time               `json:"emitted_at"`
}

// NewMaterializationChange stamps a change with an id and emission time.
func NewMaterializationChange(principal acl.Principal, prefix acl.ObjectRef, t acl.SecurableObjectType) MaterializationChange {
	return MaterializationChange{
		ID:           uuid.New().String(),
		Principal:    principal,
		ObjectPrefix: prefix,
		ObjectType:   t,
		EmittedAt:    time.Now().UTC(),
	}
}

// Sink receives materialization changes. Implementations must not block the
// caller; the engine emits fire-and-forget.
type Sink interface {
	Notify(change MaterializationChange)
}

// ChannelSink buffers changes for an in-process consumer. When the buffer is
// full the change is dropped and counted rather than blocking the engine.
type ChannelSink struct {
	ch      chan MaterializationChange
	dropped atomic.Int64
	log     *logrus.Logger
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int, log *logrus.Logger) *ChannelSink {
	if log == nil {
		log = logrus.New()
	}
	return &ChannelSink{
		ch:  make(chan MaterializationChange, buffer),
		log: log,
	}
}

// Notify enqueues the change, dropping it when the consumer is behind.
func (s *ChannelSink) Notify(change MaterializationChange) {
	select {
	case s.ch <- change:
	default:
		s.dropped.Add(1)
		s.log.WithFields(logrus.Fields{
			"principal":   change.Principal.String(),
			"object":      change.ObjectPrefix.String(),
			"object_type": string(change.ObjectType),
		}).Warn("materialization change dropped: sink buffer full")
	}
}

// Changes returns the consumer side of the buffer.
func (s *ChannelSink) Changes() <-chan MaterializationChange {
	return s.ch
}

// Dropped returns how many changes were discarded due to a full buffer.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// LogSink records changes in the structured log.
type LogSink struct {
	log *logrus.Logger
}

// NewLogSink creates a log-only sink.
func NewLogSink(log *logrus.Logger) *LogSink {
	if log == nil {
		log = logrus.New()
	}
	return &LogSink{log: log}
}

// Notify logs the change.
func (s *LogSink) Notify(change MaterializationChange) {
	s.log.WithFields(logrus.Fields{
		"id":          change.ID,
		"principal":   change.Principal.String(),
		"object":      change.ObjectPrefix.String(),
		"object_type": string(change.ObjectType),
	}).Info("materialization change")
}

// MultiSink fans a change out to every sink.
type MultiSink []Sink

// Notify delivers the change to each sink in order.
func (s MultiSink) Notify(change MaterializationChange) {
	for _, sink := range s {
		sink.Notify(change)
	}
}
