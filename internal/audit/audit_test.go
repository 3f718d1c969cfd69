package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	events []*AuditEvent
}

func (w *captureWriter) WriteEvent(event *AuditEvent) error {
	w.events = append(w.events, event)
	return nil
}

func TestLogReveal_RecordsSuccessfulEvent(t *testing.T) {
	writer := &captureWriter{}
	logger := NewLogger(10, writer)
	defer logger.Close()

	retentionUntil := time.Now().Add(24 * time.Hour)
	logger.LogReveal("scan-1", "SPACE-A", "page-1", "alice", "req-1", 3, retentionUntil, true, nil, 5*time.Millisecond)

	events := logger.GetEvents()
	require.Len(t, events, 1)
	require.Equal(t, EventTypeReveal, events[0].EventType)
	require.Equal(t, "scan-1", events[0].ScanID)
	require.Equal(t, 3, events[0].PiiEntitiesCount)
	require.True(t, events[0].Success)
	require.Empty(t, events[0].Error)
	require.Len(t, writer.events, 1)
}

func TestLogReveal_RecordsFailure(t *testing.T) {
	logger := NewLogger(10, &captureWriter{})
	defer logger.Close()

	logger.LogReveal("scan-1", "SPACE-A", "page-1", "alice", "req-2", 0, time.Time{}, false, errors.New("kmip unavailable"), time.Millisecond)

	events := logger.GetEvents()
	require.Len(t, events, 1)
	require.False(t, events[0].Success)
	require.Equal(t, "kmip unavailable", events[0].Error)
}

func TestLogRevealDenied_RecordsReason(t *testing.T) {
	logger := NewLogger(10, &captureWriter{})
	defer logger.Close()

	logger.LogRevealDenied("scan-1", "SPACE-A", "page-1", "bob", "req-3", "secret reveal disabled")

	events := logger.GetEvents()
	require.Len(t, events, 1)
	require.Equal(t, EventTypeRevealDenied, events[0].EventType)
	require.Equal(t, "secret reveal disabled", events[0].Error)
}

func TestGetEvents_EvictsOldestWhenOverCapacity(t *testing.T) {
	logger := NewLogger(2, &captureWriter{})
	defer logger.Close()

	logger.LogRevealDenied("scan-1", "SPACE-A", "p1", "a", "r1", "x")
	logger.LogRevealDenied("scan-1", "SPACE-A", "p2", "a", "r2", "x")
	logger.LogRevealDenied("scan-1", "SPACE-A", "p3", "a", "r3", "x")

	events := logger.GetEvents()
	require.Len(t, events, 2)
	require.Equal(t, "p2", events[0].PageID)
	require.Equal(t, "p3", events[1].PageID)
}

func TestPruneOlderThan_DropsOnlyExpiredEvents(t *testing.T) {
	logger := NewLogger(10, &captureWriter{})
	defer logger.Close()

	logger.LogRevealDenied("scan-1", "SPACE-A", "old", "a", "r1", "x")
	cutoff := time.Now()
	time.Sleep(time.Millisecond)
	logger.LogRevealDenied("scan-1", "SPACE-A", "new", "a", "r2", "x")

	dropped := logger.PruneOlderThan(cutoff)
	require.Equal(t, 1, dropped)

	events := logger.GetEvents()
	require.Len(t, events, 1)
	require.Equal(t, "new", events[0].PageID)
}

func TestRetentionCutoff_DefaultsTo90DaysWhenUnset(t *testing.T) {
	cutoff := RetentionCutoff(0)
	expected := time.Now().AddDate(0, 0, -90)
	require.WithinDuration(t, expected, cutoff, time.Minute)
}
