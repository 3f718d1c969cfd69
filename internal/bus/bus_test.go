package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Softcom-Technologies-Organization/ai-sentinel-sub004/internal/domain"
)

func TestBus_PublishDeliversToLiveSubscriber(t *testing.T) {
	b := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx, "scan-1", false)
	defer sub.Close()

	b.Publish("scan-1", domain.ScanEvent{ScanID: "scan-1", EventSeq: 1, EventType: domain.EventStart})

	select {
	case e := <-sub.Events:
		require.Equal(t, int64(1), e.EventSeq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_LateSubscriberGetsReplayThenLiveEvents(t *testing.T) {
	b := New(10)
	for i := int64(1); i <= 3; i++ {
		b.Publish("scan-1", domain.ScanEvent{ScanID: "scan-1", EventSeq: i})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx, "scan-1", true)
	defer sub.Close()

	b.Publish("scan-1", domain.ScanEvent{ScanID: "scan-1", EventSeq: 4})

	var seqs []int64
	for i := 0; i < 4; i++ {
		select {
		case e := <-sub.Events:
			seqs = append(seqs, e.EventSeq)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(seqs))
		}
	}
	require.Equal(t, []int64{1, 2, 3, 4}, seqs)
}

func TestBus_ReplayBufferOverwritesWhenFull(t *testing.T) {
	b := New(2)
	for i := int64(1); i <= 5; i++ {
		b.Publish("scan-1", domain.ScanEvent{ScanID: "scan-1", EventSeq: i})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx, "scan-1", true)
	defer sub.Close()

	var seqs []int64
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub.Events:
			seqs = append(seqs, e.EventSeq)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(seqs))
		}
	}
	require.Equal(t, []int64{4, 5}, seqs)
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	b := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx, "scan-1", false)
	sub.Close()

	b.Publish("scan-1", domain.ScanEvent{ScanID: "scan-1", EventSeq: 1})

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatal("unexpected event delivered after Close")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
