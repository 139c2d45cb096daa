package audit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventPopulatesDefaults(t *testing.T) {
	e := NewEvent(EventTypePermissionGrant, EventStatusSuccess)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, EventTypePermissionGrant, e.EventType)
	assert.NotNil(t, e.Metadata)
}

func TestEventJSONRoundTrip(t *testing.T) {
	e := NewEvent(EventTypeAccessDenied, EventStatusDenied)
	e.Principal = "USER:alice"
	e.Object = "catalog/sales/orders"
	e.Permissions = []string{"WRITE"}
	e.Message = "missing WRITE"

	data, err := e.ToJSON()
	require.NoError(t, err)

	got, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.EventType, got.EventType)
	assert.Equal(t, e.Permissions, got.Permissions)
}

func TestMemoryLoggerSearch(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(0)

	grant := NewEvent(EventTypePermissionGrant, EventStatusSuccess)
	grant.Principal = "USER:alice"
	grant.Object = "catalog/sales"
	require.NoError(t, l.Log(ctx, grant))

	denied := NewEvent(EventTypeAccessDenied, EventStatusDenied)
	denied.Principal = "USER:bob"
	denied.Object = "catalog/sales"
	require.NoError(t, l.Log(ctx, denied))

	assert.Equal(t, 2, l.Len())

	byType := l.Search(SearchFilter{EventTypes: []EventType{EventTypePermissionGrant}})
	require.Len(t, byType, 1)
	assert.Equal(t, "USER:alice", byType[0].Principal)

	status := EventStatusDenied
	byStatus := l.Search(SearchFilter{Status: &status})
	require.Len(t, byStatus, 1)
	assert.Equal(t, "USER:bob", byStatus[0].Principal)

	byObject := l.Search(SearchFilter{Object: "catalog/sales"})
	assert.Len(t, byObject, 2)

	assert.Empty(t, l.Search(SearchFilter{Principal: "USER:carol"}))
}

func TestMemoryLoggerCapacity(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(2)
	for i := 0; i < 5; i++ {
		e := NewEvent(EventTypePermissionGrant, EventStatusSuccess)
		e.Message = string(rune('a' + i))
		require.NoError(t, l.Log(ctx, e))
	}
	assert.Equal(t, 2, l.Len())
	events := l.Search(SearchFilter{})
	require.Len(t, events, 2)
	assert.Equal(t, "d", events[0].Message)
	assert.Equal(t, "e", events[1].Message)
}

func TestMemoryLoggerTimeFilter(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(0)

	old := NewEvent(EventTypePermissionRevoke, EventStatusSuccess)
	old.Timestamp = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, l.Log(ctx, old))

	recent := NewEvent(EventTypePermissionRevoke, EventStatusSuccess)
	require.NoError(t, l.Log(ctx, recent))

	cutoff := time.Now().UTC().Add(-time.Minute)
	got := l.Search(SearchFilter{StartTime: &cutoff})
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].ID)
}

func TestLogrusLoggerDoesNotError(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	l := NewLogrusLogger(log)

	e := NewEvent(EventTypeObjectDelete, EventStatusFailure)
	e.ErrorMessage = "backing store unavailable"
	assert.NoError(t, l.Log(context.Background(), e))
	assert.NoError(t, l.Close())
}

type failingLogger struct{ err error }

func (f failingLogger) Log(ctx context.Context, event *Event) error { return f.err }
func (f failingLogger) Close() error                                { return f.err }

func TestMultiLoggerDeliversToAll(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryLogger(0)
	b := NewMemoryLogger(0)
	boom := errors.New("sink down")
	multi := MultiLogger{a, failingLogger{err: boom}, b}

	err := multi.Log(ctx, NewEvent(EventTypeHierarchyDiff, EventStatusSuccess))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
}
