package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStore_CommitItemAppendsUpsertsAndIncrements(t *testing.T) {
	client := newTestClient(t)
	store := New(client)
	ctx := context.Background()

	seq, err := store.CommitItem(ctx, "scan-1", "SPACE-A",
		map[string]any{"eventType": "ITEM", "pageId": "p1"},
		CheckpointUpdate{LastProcessedPageID: "p1", Status: "RUNNING", ProgressPercentage: floatPtr(25), UpdatedAt: time.Now().UTC().Format(time.RFC3339)},
		SeverityDelta{High: 1, Low: 1},
	)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)

	cpFields, err := client.HGetAll(ctx, CheckpointKey("scan-1", "SPACE-A")).Result()
	require.NoError(t, err)
	require.Equal(t, "p1", cpFields["lastProcessedPageId"])
	require.Equal(t, "RUNNING", cpFields["status"])
	require.Equal(t, "25.0", cpFields["progressPercentage"])

	counterFields, err := client.HGetAll(ctx, CounterKey("scan-1", "SPACE-A")).Result()
	require.NoError(t, err)
	require.Equal(t, "1", counterFields["high"])
	require.Equal(t, "1", counterFields["low"])

	isMember, err := client.SIsMember(ctx, RunningSetKey("scan-1"), "SPACE-A").Result()
	require.NoError(t, err)
	require.True(t, isMember)
}

func TestStore_CommitItemSequencesAcrossCalls(t *testing.T) {
	client := newTestClient(t)
	store := New(client)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		seq, err := store.CommitItem(ctx, "scan-1", "SPACE-A",
			map[string]any{"eventType": "ITEM"},
			CheckpointUpdate{Status: "RUNNING", UpdatedAt: time.Now().UTC().Format(time.RFC3339)},
			SeverityDelta{},
		)
		require.NoError(t, err)
		require.Equal(t, int64(i), seq)
	}
}

func TestStore_CommitItemRejectsNegativeDelta(t *testing.T) {
	client := newTestClient(t)
	store := New(client)
	ctx := context.Background()

	_, err := store.CommitItem(ctx, "scan-1", "SPACE-A",
		map[string]any{"eventType": "ITEM"},
		CheckpointUpdate{Status: "RUNNING", UpdatedAt: time.Now().UTC().Format(time.RFC3339)},
		SeverityDelta{High: -1},
	)
	require.Error(t, err)
}

func TestStore_CommitItemRejectsIllegalTransition(t *testing.T) {
	client := newTestClient(t)
	store := New(client)
	ctx := context.Background()

	_, err := store.CommitItem(ctx, "scan-1", "SPACE-A",
		map[string]any{"eventType": "ITEM"},
		CheckpointUpdate{Status: "COMPLETED", UpdatedAt: time.Now().UTC().Format(time.RFC3339)},
		SeverityDelta{},
	)
	require.NoError(t, err)

	_, err = store.CommitItem(ctx, "scan-1", "SPACE-A",
		map[string]any{"eventType": "ITEM"},
		CheckpointUpdate{Status: "RUNNING", UpdatedAt: time.Now().UTC().Format(time.RFC3339)},
		SeverityDelta{},
	)
	require.Error(t, err)
	require.True(t, IsIllegalTransition(err))
}

func floatPtr(f float64) *float64 { return &f }
